// Package assets embeds the seed word catalog shipped with the server.
package assets

import (
	"bufio"
	"embed"
	"fmt"
	"strings"
)

//go:embed words.tsv
var FS embed.FS

// SeedWord is one row of words.tsv.
type SeedWord struct {
	Word       string
	Category   string
	Difficulty string
	Hint       string
}

// SeedWords parses the embedded catalog. Blank lines and lines starting
// with '#' are skipped; words are upper-cased.
func SeedWords() ([]SeedWord, error) {
	f, err := FS.Open("words.tsv")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []SeedWord
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		cols := strings.Split(s, "\t")
		if len(cols) != 4 {
			return nil, fmt.Errorf("words.tsv:%d: want 4 columns, got %d", line, len(cols))
		}
		out = append(out, SeedWord{
			Word:       strings.ToUpper(strings.TrimSpace(cols[0])),
			Category:   strings.TrimSpace(cols[1]),
			Difficulty: strings.TrimSpace(cols[2]),
			Hint:       strings.TrimSpace(cols[3]),
		})
	}
	return out, sc.Err()
}
