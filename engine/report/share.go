package report

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/motolight/motolight/engine/domain"
)

// Sharer builds permalinks and the outbound share payload.
type Sharer struct {
	base     *url.URL
	template string
}

// NewSharer parses baseURL. template must contain exactly one %s, which is
// replaced by the URL-escaped share text; everything else is kept literally.
func NewSharer(baseURL, template string) (*Sharer, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	if strings.Count(template, "%s") != 1 {
		return nil, fmt.Errorf("share template must contain one %%s: %q", template)
	}
	return &Sharer{base: u, template: template}, nil
}

func (s *Sharer) link(q url.Values) string {
	u := *s.base
	u.RawQuery = q.Encode()
	return u.String()
}

// Permalink addresses a saved report.
func (s *Sharer) Permalink(id string) string {
	return s.link(url.Values{domain.ParamReport: {id}})
}

// VehicleLink addresses a vehicle selection without a report.
func (s *Sharer) VehicleLink(k domain.VehicleKey) string {
	q := url.Values{}
	if k.Make != "" {
		q.Set(domain.ParamMake, k.Make)
	}
	if k.Model != "" {
		q.Set(domain.ParamModel, k.Model)
	}
	if k.Year != 0 {
		q.Set(domain.ParamYear, strconv.Itoa(k.Year))
	}
	return s.link(q)
}

// Text is the prefilled message sent to the messaging target.
func (s *Sharer) Text(r domain.Report) string {
	c := r.Capacity
	featured := Placeholder
	if r.FeaturedLight != nil {
		featured = fmt.Sprintf("%s (%d W)", r.FeaturedLight.Name, r.FeaturedLight.LoadWatts)
	}
	lines := []string{
		"Fog light report " + Code(r.ID),
		"Vehicle: " + VehicleLabel(r.Answers.Vehicle()),
		fmt.Sprintf("Safe margin: %s", watts(c.SafeMargin, c.Approx)),
		fmt.Sprintf("Recommended max: %s", watts(c.RecommendedMax, c.Approx)),
		"Featured light: " + featured,
		s.Permalink(r.ID),
	}
	return strings.Join(lines, "\n")
}

// URL is the messaging deep link carrying Text.
func (s *Sharer) URL(r domain.Report) string {
	return strings.Replace(s.template, "%s", url.QueryEscape(s.Text(r)), 1)
}
