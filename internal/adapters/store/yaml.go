package store

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/quorum-grid/internal/core"
)

// SheetFixture is a YAML description of a sheet: either a dense block of
// rows, or sparse A1-addressed cells, or both.
//
//	rows:
//	  - [menu, log, prompt, claude answer]
//	  - [ai, "", claude]
//	cells:
//	  D5: already answered
type SheetFixture struct {
	Rows  [][]string        `yaml:"rows"`
	Cells map[string]string `yaml:"cells"`
}

// ImportYAML loads a SheetFixture into the store.
func ImportYAML(ctx context.Context, s core.TabularStore, r io.Reader) (int, error) {
	var fx SheetFixture
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&fx); err != nil && err != io.EOF {
		return 0, fmt.Errorf("decoding sheet yaml: %w", err)
	}
	reqs, err := fx.Updates()
	if err != nil {
		return 0, err
	}
	if len(reqs) == 0 {
		return 0, nil
	}
	if err := s.BatchUpdate(ctx, reqs); err != nil {
		return 0, err
	}
	return len(reqs), nil
}

// Updates converts the fixture into cell writes; sparse cells win over rows.
func (fx SheetFixture) Updates() ([]core.UpdateRequest, error) {
	reqs := make([]core.UpdateRequest, 0)
	for r, row := range fx.Rows {
		for c, v := range row {
			if v != "" {
				reqs = append(reqs, core.WriteCell(core.Cell(r, c), v))
			}
		}
	}
	for a1, v := range fx.Cells {
		ref, err := core.ParseA1(a1)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, core.WriteCell(ref, v))
	}
	return reqs, nil
}
