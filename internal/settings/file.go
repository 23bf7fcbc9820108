package settings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/HerbHall/gatesync/internal/services"
)

// Export writes every stored tunable as a flat YAML mapping. Unset keys are
// omitted so an import does not pin today's defaults.
func Export(ctx context.Context, repo services.SettingsRepository, w io.Writer) error {
	stored, err := repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("list settings: %w", err)
	}

	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range stored {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: s.Key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: s.Value, Style: yaml.DoubleQuotedStyle},
		)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return enc.Close()
}

// Import reads a flat YAML mapping and stores it in one transaction after
// validating every entry, so a bad file changes nothing.
func Import(ctx context.Context, repo services.SettingsRepository, r io.Reader) (int, error) {
	var raw map[string]any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("decode settings: %w", err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		s := ""
		if v != nil {
			s = strings.TrimSpace(fmt.Sprint(v))
		}
		if err := services.Validate(k, s); err != nil {
			return 0, err
		}
		values[k] = s
	}
	if err := repo.SetMany(ctx, values); err != nil {
		return 0, err
	}
	return len(values), nil
}
