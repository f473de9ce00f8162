package familytree

import (
	"fmt"
	"io"
	"strings"

	"github.com/dukerupert/heirloom/internal/model"
)

// WriteOutline prints the forest as an indented outline, one member per line.
func WriteOutline(w io.Writer, roots []*TreeNode) error {
	var err error
	Walk(roots, func(n *TreeNode) bool {
		line := strings.Repeat("  ", n.Generation) + describe(n.Member)
		if n.Spouse != nil {
			line += " & " + describe(*n.Spouse)
		}
		_, err = fmt.Fprintln(w, line)
		return err == nil
	})
	return err
}

func describe(m model.FamilyMember) string {
	s := m.FullName
	switch {
	case m.BirthDate != nil && m.DeathDate != nil:
		s += fmt.Sprintf(" (%s-%s)", year(*m.BirthDate), year(*m.DeathDate))
	case m.BirthDate != nil:
		s += fmt.Sprintf(" (b. %s)", year(*m.BirthDate))
	case m.DeathDate != nil:
		s += fmt.Sprintf(" (d. %s)", year(*m.DeathDate))
	}
	if m.IsPlaceholder {
		s += " *"
	}
	return s
}

func year(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return date
}
