package normalizer

import (
	"strings"

	"github.com/fgeck/goswitch-backup/internal/models"
)

// Normalize converts raw configuration text to its canonical form: line endings
// unified, trailing whitespace trimmed, profile rules applied in order and blank
// lines collapsed. It depends only on its arguments.
func Normalize(raw models.RetrievedConfig, profile models.DeviceProfile) (models.NormalizedConfig, error) {
	text := strings.ReplaceAll(raw.Text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		line, keep := applyRules(line, profile.NormalizationRules)
		if !keep {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}

	out := collapseBlank(kept)
	if len(out) == 0 {
		return models.NormalizedConfig{}, models.ErrEmptyConfig
	}

	return models.NormalizedConfig{
		Kind: raw.Kind,
		Text: strings.Join(out, "\n") + "\n",
	}, nil
}

func applyRules(line string, rules []models.NormalizationRule) (string, bool) {
	for _, rule := range rules {
		if rule.Pattern == nil || !rule.Pattern.MatchString(line) {
			continue
		}
		if rule.Remove {
			return "", false
		}
		line = rule.Pattern.ReplaceAllString(line, rule.Replacement)
	}
	return line, true
}

// collapseBlank drops leading and trailing blank lines and folds runs of blank lines into one.
func collapseBlank(lines []string) []string {
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return out
}
