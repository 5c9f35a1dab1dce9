package fetcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leapstack-labs/schemasync/internal/catalog"
	"github.com/leapstack-labs/schemasync/internal/connection"
	"github.com/leapstack-labs/schemasync/internal/schema"
	"github.com/leapstack-labs/schemasync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFunc func(ctx context.Context, desc connection.Descriptor, opts catalog.Options) (*schema.EngineSchema, error)

func (f engineFunc) GetSchema(ctx context.Context, desc connection.Descriptor, opts catalog.Options) (*schema.EngineSchema, error) {
	return f(ctx, desc, opts)
}

func catalogOf(names ...string) *schema.EngineSchema {
	s := &schema.EngineSchema{Cluster: schema.Cluster{ConnectionString: "help"}}
	for _, n := range names {
		s.Cluster.Databases = append(s.Cluster.Databases, schema.Database{Name: n})
	}
	return s
}

func TestFetch_Narrows(t *testing.T) {
	eng := engineFunc(func(context.Context, connection.Descriptor, catalog.Options) (*schema.EngineSchema, error) {
		return catalogOf("ContosoSales", "Other"), nil
	})
	f := New(eng, Options{}, testutil.NewTestLogger(t))

	tests := []struct {
		name     string
		database string
		want     string
	}{
		{name: "named", database: "ContosoSales", want: "ContosoSales"},
		{name: "case-insensitive", database: "other", want: "Other"},
		{name: "missing defaults to first", database: "Missing", want: "ContosoSales"},
		{name: "unset defaults to first", database: "", want: "ContosoSales"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Fetch(context.Background(), connection.Descriptor{Cluster: "help", Database: tt.database})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.DatabaseName())
		})
	}
}

func TestFetch_PassesOptions(t *testing.T) {
	var got catalog.Options
	eng := engineFunc(func(_ context.Context, _ connection.Descriptor, opts catalog.Options) (*schema.EngineSchema, error) {
		got = opts
		return catalogOf("a"), nil
	})
	f := New(eng, Options{BypassCache: true, HideProgress: true}, nil)

	_, err := f.Fetch(context.Background(), connection.Descriptor{Cluster: "help"})
	require.NoError(t, err)
	assert.Equal(t, catalog.Options{BypassCache: true, HideProgress: true}, got)
}

func TestFetch_Error(t *testing.T) {
	boom := errors.New("auth failed")
	eng := engineFunc(func(context.Context, connection.Descriptor, catalog.Options) (*schema.EngineSchema, error) {
		return nil, boom
	})
	f := New(eng, Options{}, nil)

	_, err := f.Fetch(context.Background(), connection.Descriptor{Cluster: "help", Database: "db"})
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "help", fe.Cluster)
	assert.False(t, fe.Timeout)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "help/db")
}

func TestFetch_Timeout(t *testing.T) {
	eng := engineFunc(func(ctx context.Context, _ connection.Descriptor, _ catalog.Options) (*schema.EngineSchema, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := New(eng, Options{Timeout: 10 * time.Millisecond}, nil)

	_, err := f.Fetch(context.Background(), connection.Descriptor{Cluster: "help"})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Timeout)
	assert.Contains(t, err.Error(), "timed out")
}

func TestFetch_CollapsesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	eng := engineFunc(func(context.Context, connection.Descriptor, catalog.Options) (*schema.EngineSchema, error) {
		calls.Add(1)
		<-release
		return catalogOf("a", "b"), nil
	})
	f := New(eng, Options{}, nil)

	var wg sync.WaitGroup
	results := make([]*schema.EngineSchema, 2)
	for i, db := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.Fetch(context.Background(), connection.Descriptor{Cluster: "help", Database: db})
			assert.NoError(t, err)
			results[i] = s
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	// Give the second caller time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "a", results[0].DatabaseName())
	assert.Equal(t, "b", results[1].DatabaseName())
}
