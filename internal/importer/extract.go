package importer

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/mlog-app/mlog-store/internal/kv"
	"github.com/mlog-app/mlog-store/internal/records"
)

const eventSelector = `[itemscope][itemtype*="Event"]`

// musicalID is stable for a page and title, so re-imports overwrite.
func musicalID(pageURL, title string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(pageURL+"#"+title)).String()
}

func musicalEntry(m *records.Musical) (kv.Entry, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return kv.Entry{}, err
	}
	return kv.Entry{Key: m.Key(), Value: raw}, nil
}

// extractMusicals reads every schema.org Event on the page. Events without a
// name are skipped.
func extractMusicals(pageURL string, page []byte) ([]records.Musical, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}
	base, _ := url.Parse(pageURL)

	var out []records.Musical
	doc.Find(eventSelector).Each(func(_ int, scope *goquery.Selection) {
		title := strings.Join(strings.Fields(prop(scope, "name").First().Text()), " ")
		if title == "" {
			return
		}
		m := records.Musical{
			Title:     title,
			StartDate: date(propValue(prop(scope, "startDate").First())),
			EndDate:   date(propValue(prop(scope, "endDate").First())),
			PosterURL: resolve(base, propValue(prop(scope, "image").First())),
		}
		if m.EndDate == "" {
			m.EndDate = m.StartDate
		}
		if rate, ok := discount(scope); ok {
			m.DiscountRate = &rate
		}
		m.Description = description(prop(scope, "description").First())
		out = append(out, m)
	})
	return out, nil
}

// prop returns the elements carrying itemprop name that belong to scope
// itself, not to an item nested inside it.
func prop(scope *goquery.Selection, name string) *goquery.Selection {
	return scope.Find(`[itemprop~="` + name + `"]`).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Parent().Closest("[itemscope]").IsSelection(scope)
	})
}

// propValue reads a microdata value the way HTML microdata defines it for the
// common elements.
func propValue(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	var v string
	switch goquery.NodeName(s) {
	case "meta":
		v = s.AttrOr("content", "")
	case "img", "source", "audio", "video", "iframe":
		v = s.AttrOr("src", "")
	case "a", "link", "area":
		v = s.AttrOr("href", "")
	case "time":
		v = s.AttrOr("datetime", s.Text())
	case "data", "meter":
		v = s.AttrOr("value", "")
	default:
		v = s.AttrOr("content", s.Text())
	}
	return strings.TrimSpace(v)
}

// date reduces an ISO 8601 date or date-time to YYYY-MM-DD.
func date(v string) string {
	if len(v) < 10 {
		return ""
	}
	if _, err := time.Parse("2006-01-02", v[:10]); err != nil {
		return ""
	}
	return v[:10]
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil && !u.IsAbs() {
		u = base.ResolveReference(u)
	}
	return u.String()
}

// discount reads a percentage from an Offer's "discount" property, e.g.
// "30" or "30%".
func discount(scope *goquery.Selection) (float64, bool) {
	var rate float64
	var ok bool
	prop(scope, "offers").EachWithBreak(func(_ int, offer *goquery.Selection) bool {
		if _, isItem := offer.Attr("itemscope"); !isItem {
			return true
		}
		v := strings.TrimSuffix(propValue(prop(offer, "discount").First()), "%")
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || !(f >= 0 && f <= 100) {
			return true
		}
		rate, ok = f, true
		return false
	})
	return rate, ok
}

// description converts the description markup to Markdown, or returns the
// attribute value for meta elements.
func description(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	if goquery.NodeName(s) == "meta" {
		return propValue(s)
	}
	inner, err := s.Html()
	if err != nil {
		return strings.TrimSpace(s.Text())
	}
	md, err := htmltomarkdown.ConvertString(inner)
	if err != nil {
		return strings.TrimSpace(s.Text())
	}
	return strings.TrimSpace(md)
}
