package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"csvconf/internal/session"
)

// styled reports whether w is a terminal worth decorating.
func styled(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func newTable(w io.Writer) *table.Table {
	t := table.New().Border(lipgloss.NormalBorder())
	if styled(w) {
		header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
		cell := lipgloss.NewStyle().Padding(0, 1)
		t = t.BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("241"))).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return header
				}
				return cell
			})
	} else {
		pad := lipgloss.NewStyle().Padding(0, 1)
		t = t.StyleFunc(func(int, int) lipgloss.Style { return pad })
	}
	return t
}

// renderText prints the column table, coordinate candidates and the
// preview grid of s.
func renderText(w io.Writer, s *session.Session) {
	state := "none"
	if s.FromSidecar {
		state = "loaded"
		if len(s.SkippedTokens) > 0 {
			state = fmt.Sprintf("loaded, no usable token for columns %s", joinInts(s.SkippedTokens))
		}
	}
	fmt.Fprintf(w, "source:  %s\nsidecar: %s (%s)\n", s.Path, s.SidecarPath, state)

	cols := newTable(w).Headers("#", "name", "inferred", "type", "role")
	for i, c := range s.Schema.Columns {
		eff := c.Effective().String()
		if c.User != nil {
			eff += " *"
		}
		cols.Row(strconv.Itoa(i), c.Name, c.Inferred.String(), eff, c.Role.String())
	}
	fmt.Fprintln(w, cols.Render())

	cands := s.Candidates()
	names := make([]string, len(cands))
	for i, idx := range cands {
		names[i] = fmt.Sprintf("%d:%s", idx, s.Schema.Columns[idx].Name)
	}
	if len(names) == 0 {
		names = []string{"(none)"}
	}
	fmt.Fprintf(w, "coordinate candidates: %s\n", strings.Join(names, ", "))

	g := s.Preview()
	fmt.Fprintf(w, "preview (%d rows):\n", len(g.Cells))
	pv := newTable(w).Headers(g.Header...).Rows(g.Cells...)
	fmt.Fprintln(w, pv.Render())
}

type jsonColumn struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Inferred string `json:"inferred"`
	Type     string `json:"type"`
	Override bool   `json:"override"`
	Role     string `json:"role,omitempty"`
}

type jsonInspect struct {
	Path          string       `json:"path"`
	Sidecar       string       `json:"sidecar"`
	FromSidecar   bool         `json:"from_sidecar"`
	SkippedTokens []int        `json:"skipped_tokens,omitempty"`
	Columns       []jsonColumn `json:"columns"`
	Candidates    []int        `json:"candidates"`
	Preview       [][]string   `json:"preview"`
}

func renderJSON(w io.Writer, s *session.Session) error {
	out := jsonInspect{
		Path:          s.Path,
		Sidecar:       s.SidecarPath,
		FromSidecar:   s.FromSidecar,
		SkippedTokens: s.SkippedTokens,
		Candidates:    s.Candidates(),
		Preview:       s.Preview().Cells,
	}
	for i, c := range s.Schema.Columns {
		out.Columns = append(out.Columns, jsonColumn{
			Index:    i,
			Name:     c.Name,
			Inferred: c.Inferred.String(),
			Type:     c.Effective().String(),
			Override: c.User != nil,
			Role:     c.Role.String(),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

// baseName is the file name without directory or extension.
func baseName(path string) string {
	b := filepath.Base(path)
	return strings.TrimSuffix(b, filepath.Ext(b))
}
