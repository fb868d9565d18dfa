package assembler

import (
	"fmt"
	"math"
	"strings"

	"github.com/hyperjump/scribe/internal/models"
)

// Markdown renders doc. References are expected to be resolved already (see
// dedup.Resolver.ResolveDocument); their content is printed followed by a note
// naming where it lives.
func Markdown(doc *models.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	fmt.Fprintf(&b, "_Version %d, %s, coverage %d%%_\n", doc.Version, doc.Status, int(math.Round(doc.Coverage*100)))
	for _, sec := range doc.Sections {
		if len(sec.Blocks) == 0 && !sec.Required {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n", sec.Title)
		if len(sec.Blocks) == 0 {
			b.WriteString("\n_Not answered yet._\n")
			continue
		}
		for _, blk := range sec.Blocks {
			b.WriteString("\n")
			b.WriteString(strings.TrimSpace(blk.Content))
			b.WriteString("\n")
			if blk.Ref != nil {
				fmt.Fprintf(&b, "\n> See %s, %s (%s)\n",
					strings.ToUpper(string(blk.Ref.TargetDocumentType)), blk.Ref.TargetSection, blk.Ref.TargetQuestion)
			}
		}
	}
	return b.String()
}
