package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/leapstack-labs/schemasync/internal/config"
	"gopkg.in/yaml.v3"
)

var keyDescriptions = map[string]string{
	"host":               "Host flavor: `desktop` starts a language server process, `web` delivers schemas in-process.",
	"workspace":          "Directory scanned and watched for query documents.",
	"language_ids":       "Language identifiers whose documents are eligible for schema sync.",
	"notebook_types":     "Notebook types whose cells are eligible for schema sync.",
	"server.command":     "Language server executable. Defaults to the bundled `schemasync lsp`.",
	"server.args":        "Extra arguments passed to the language server.",
	"server.timeout":     "How long to wait for the language server to initialize. Zero disables the limit.",
	"fetch.timeout":      "Upper bound on a single schema fetch.",
	"fetch.bypass_cache": "Skip the in-memory schema cache when fetching.",
	"fetch.retry_failed": "Retry connections whose last fetch failed instead of reusing the failure.",
	"fetch.reject_stale": "Drop fetch results whose connection changed while the fetch was running.",
	"log.level":          "Log level: debug, info, warn or error.",
	"log.format":         "Log format: text or json.",
	"metrics.addr":       "Listen address for the Prometheus metrics endpoint. Empty disables it.",
}

// configKeys returns every configuration key in sorted order.
func configKeys() []string {
	defaults := config.Defaults()
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// envVarName maps a config key to the environment variable that sets it.
func envVarName(key string) string {
	return config.EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "__"))
}

// defaultYAML renders the default configuration as a schemasync.yaml file.
func defaultYAML() (string, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(config.Defaults(), "."), nil); err != nil {
		return "", err
	}
	out, err := yaml.Marshal(k.Raw())
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func formatDefault(v any) string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return ""
		}
		return InlineCode(val)
	case []string:
		if len(val) == 0 {
			return ""
		}
		return InlineCode(strings.Join(val, ", "))
	default:
		return InlineCode(fmt.Sprint(val))
	}
}

// generateConfigDocs writes the configuration reference page.
func generateConfigDocs(outDir string) error {
	log.Printf("Generating config docs to %s", outDir)

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	w := NewMarkdownWriter()
	w.Frontmatter("Configuration", "Configuration reference for schemasync")
	w.GeneratedMarker()

	w.Header(1, "Configuration")
	w.Paragraph(fmt.Sprintf("schemasync reads %s (or %s) from the working directory or any of its parents. "+
		"Values are layered: defaults, then the file, then environment variables, then command-line flags.",
		InlineCode("schemasync.yaml"), InlineCode("schemasync.yml")))

	w.Header(2, "Keys")
	defaults := config.Defaults()
	var rows [][]string
	for _, key := range configKeys() {
		rows = append(rows, []string{
			InlineCode(key),
			InlineCode(envVarName(key)),
			formatDefault(defaults[key]),
			cleanDescription(keyDescriptions[key]),
		})
	}
	w.Table([]string{"Key", "Environment", "Default", "Description"}, rows)

	w.Header(2, "Example")
	example, err := defaultYAML()
	if err != nil {
		return fmt.Errorf("failed to render example: %w", err)
	}
	w.CodeBlock("yaml", strings.TrimSpace(example))

	filename := filepath.Join(outDir, "config.md")
	if err := os.WriteFile(filename, w.Bytes(), 0600); err != nil {
		return err
	}
	log.Printf("  Generated config.md")
	return nil
}
