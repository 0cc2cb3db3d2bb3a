package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/motolight/motolight/engine/domain"
)

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`,
	"|", `\|`, "<", `\<`, ">", `\>`, "#", `\#`,
)

func itoa(n int) string { return strconv.Itoa(n) }

func watts(n int, approx bool) string {
	s := itoa(n) + " W"
	if approx {
		s += " (approx.)"
	}
	return s
}

func field(s string) string {
	return mdEscaper.Replace(orPlaceholder(s))
}

// Markdown renders the report card as GitHub-flavoured markdown.
func Markdown(r domain.Report) string {
	a, c := r.Answers, r.Capacity
	var b strings.Builder

	fmt.Fprintf(&b, "# Fog light report %s\n\n", Code(r.ID))
	fmt.Fprintf(&b, "**Vehicle:** %s\n\n", mdEscaper.Replace(VehicleLabel(a.Vehicle())))

	b.WriteString("| Electrical | Watts |\n|---|---|\n")
	fmt.Fprintf(&b, "| Alternator output | %s |\n", watts(c.AlternatorOutput, c.AlternatorOutputApprox))
	fmt.Fprintf(&b, "| Stock load | %s |\n", watts(c.StockLoad, c.StockLoadApprox))
	fmt.Fprintf(&b, "| Existing accessories | %s |\n", watts(c.ExistingLoad, false))
	fmt.Fprintf(&b, "| Safe margin | %s |\n", watts(c.SafeMargin, c.Approx))
	fmt.Fprintf(&b, "| Recommended max | %s |\n", watts(c.RecommendedMax, c.Approx))
	fmt.Fprintf(&b, "| System load | %.1f%% (%s) |\n\n", c.LoadPercent, c.Status)

	b.WriteString("## Riding pattern\n\n")
	fmt.Fprintf(&b, "- Fog: %s\n", field(string(a.FogFrequency)))
	fmt.Fprintf(&b, "- Speed: %s\n", field(speedLabel(a.Speed)))
	fmt.Fprintf(&b, "- Terrain: %s\n", field(string(a.Terrain)))
	if a.WearsGlasses {
		fmt.Fprintf(&b, "- Glasses: left %s, right %s\n", field(a.LeftEye), field(a.RightEye))
	} else {
		b.WriteString("- Glasses: no\n")
	}
	fmt.Fprintf(&b, "- Beam colour: %s\n\n", field(string(a.BeamColor)))

	b.WriteString("## Featured light\n\n")
	if f := r.FeaturedLight; f != nil {
		fmt.Fprintf(&b, "**%s**, %d W, %s, rated %.1f/5\n", field(f.Name), f.LoadWatts, field(f.Lux), f.Rating)
	} else {
		b.WriteString(`\` + Placeholder + "\n")
	}
	return b.String()
}

func speedLabel(s domain.SpeedBand) string {
	if s == domain.SpeedUnset {
		return ""
	}
	return string(s) + " km/h"
}

// Renderer turns report cards into HTML.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a Renderer. Raw HTML in the source is never passed
// through.
func NewRenderer() *Renderer {
	return &Renderer{md: goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithXHTML()),
	)}
}

// HTML renders the report card.
func (rn *Renderer) HTML(r domain.Report) (string, error) {
	var buf bytes.Buffer
	if err := rn.md.Convert([]byte(Markdown(r)), &buf); err != nil {
		return "", fmt.Errorf("render report %s: %w", r.ID, err)
	}
	return buf.String(), nil
}
