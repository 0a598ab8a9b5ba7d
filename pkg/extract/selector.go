package extract

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/Sriram-PR/catalog-scraper/pkg/config"
	"github.com/Sriram-PR/catalog-scraper/pkg/models"
	"github.com/Sriram-PR/catalog-scraper/pkg/parse"
	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

// GeneralCategory holds characteristics rows that appear before any header row
const GeneralCategory = "General"

// SelectorExtractor extracts catalog data with CSS selectors
type SelectorExtractor struct {
	sel             config.SelectorConfig
	homepage        *url.URL // Links under it are unwrapped inside user content
	includeMarkdown bool
	log             *logrus.Entry
}

var _ Extractor = (*SelectorExtractor)(nil)

// Selectors returns the effective selector set
func (e *SelectorExtractor) Selectors() config.SelectorConfig { return e.sel }

func (e *SelectorExtractor) load(pageURL string, markup []byte) (*goquery.Document, *url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: page URL '%s': %v", utils.ErrParsing, pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: HTML of '%s': %v", utils.ErrParsing, pageURL, err)
	}
	return doc, base, nil
}

// Group implements Extractor
func (e *SelectorExtractor) Group(pageURL string, markup []byte) (models.GroupPage, error) {
	doc, base, err := e.load(pageURL, markup)
	if err != nil {
		return models.GroupPage{}, err
	}

	title := strings.TrimSpace(doc.Find(e.sel.GroupTitle).First().Text())
	if title == "" {
		return models.GroupPage{}, fmt.Errorf("%w: group title '%s' not found on '%s'", utils.ErrExtraction, e.sel.GroupTitle, pageURL)
	}

	return models.GroupPage{
		URL:       pageURL,
		Title:     title,
		Subgroups: collectLinks(doc.Find(e.sel.Subgroups), "href", base),
	}, nil
}

// Listing implements Extractor. An empty page is not an error: it ends pagination.
func (e *SelectorExtractor) Listing(pageURL string, markup []byte) (models.ListingPage, error) {
	doc, base, err := e.load(pageURL, markup)
	if err != nil {
		return models.ListingPage{}, err
	}
	return models.ListingPage{
		URL:      pageURL,
		Title:    strings.TrimSpace(doc.Find(e.sel.GroupTitle).First().Text()),
		Products: collectLinks(doc.Find(e.sel.ListingProducts), "href", base),
	}, nil
}

// Product implements Extractor. Only a missing title fails the record;
// other absent fields get null or empty placeholders.
func (e *SelectorExtractor) Product(pageURL string, markup []byte) (models.Record, error) {
	doc, base, err := e.load(pageURL, markup)
	if err != nil {
		return models.Record{}, err
	}
	pageLog := e.log.WithField("url", pageURL)

	title := strings.TrimSpace(doc.Find(e.sel.ProductTitle).First().Text())
	if title == "" {
		return models.Record{}, fmt.Errorf("%w: product title '%s' not found on '%s'", utils.ErrExtraction, e.sel.ProductTitle, pageURL)
	}

	rec := models.Record{
		OriginalURL:     pageURL,
		Title:           title,
		Characteristics: map[string]map[string]string{},
	}

	if price := strings.TrimSpace(doc.Find(e.sel.Price).First().Text()); price != "" {
		normalized := norm.NFKD.String(price)
		rec.Price = &normalized
	} else {
		pageLog.Debug("No price on product page")
	}

	if src, ok := doc.Find(e.sel.Image).First().Attr("src"); ok {
		if abs, ok := parse.ResolveLink(base, src); ok {
			rec.Image = &abs
		}
	}
	if rec.Image == nil {
		pageLog.Debug("No main image on product page")
	}

	rec.ExtraImages = collectLinks(doc.Find(e.sel.ExtraImages), "href", base)

	rec.UserContentImages = []string{}
	if section := doc.Find(e.sel.UserContent).First(); section.Length() > 0 {
		// Clone so the document stays untouched for later selectors
		section = section.Clone()
		e.unwrapInternalLinks(section, base)

		rec.UserContentImages = collectLinks(section.Find("img"), "src", base)
		if out, err := goquery.OuterHtml(section); err == nil {
			rec.UserContentHTML = out
		} else {
			pageLog.Warnf("Could not render user content HTML: %v", err)
		}
		rec.UserContentText = strings.TrimSpace(section.Text())

		if e.includeMarkdown && rec.UserContentHTML != "" {
			converter := md.NewConverter("", true, nil)
			markdown, err := converter.ConvertString(rec.UserContentHTML)
			if err != nil {
				pageLog.WithField("error_type", utils.CategorizeError(utils.ErrMarkdownConversion)).
					Warnf("%v: %v", utils.ErrMarkdownConversion, err)
			} else {
				rec.UserContentMarkdown = strings.TrimSpace(markdown)
			}
		}
	}

	all := parse.NewLinkSet()
	if rec.Image != nil {
		all.Add(*rec.Image)
	}
	for _, group := range [][]string{rec.ExtraImages, rec.UserContentImages} {
		for _, link := range group {
			all.Add(link)
		}
	}
	rec.AllImages = all.Links()

	if table := doc.Find(e.sel.Characteristics).First(); table.Length() > 0 {
		rec.Characteristics = parseCharacteristics(table, pageLog)
	}

	rec.SpecificationLinks = collectLinks(doc.Find(e.sel.SpecLinks), "href", base)

	return rec, nil
}

// unwrapInternalLinks replaces links pointing back into the site with their text
func (e *SelectorExtractor) unwrapInternalLinks(section *goquery.Selection, base *url.URL) {
	if e.homepage == nil {
		return
	}
	section.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		abs, ok := parse.ResolveLink(base, href)
		if !ok || !parse.HasPrefixURL(abs, e.homepage.String()) {
			return
		}
		a.ReplaceWithHtml(html.EscapeString(a.Text()))
	})
}

// parseCharacteristics reads a two-level table: a row with a single th starts a
// category, a row with two td cells adds an attribute to the current category
func parseCharacteristics(table *goquery.Selection, log *logrus.Entry) map[string]map[string]string {
	result := map[string]map[string]string{}
	current := ""

	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Children()
		switch {
		case cells.Length() == 1 && goquery.NodeName(cells) == "th":
			current = strings.TrimSpace(cells.Text())
			if _, ok := result[current]; !ok {
				result[current] = map[string]string{}
			}
		case cells.Length() == 2 && goquery.NodeName(cells.Eq(0)) == "td" && goquery.NodeName(cells.Eq(1)) == "td":
			category := current
			if category == "" {
				category = GeneralCategory
			}
			if _, ok := result[category]; !ok {
				result[category] = map[string]string{}
			}
			result[category][strings.TrimSpace(cells.Eq(0).Text())] = strings.TrimSpace(cells.Eq(1).Text())
		default:
			log.Debugf("Unknown characteristics row structure at row %d (%d cells)", i, cells.Length())
		}
	})
	return result
}

// collectLinks resolves attr of every element against base, deduplicated in document order
func collectLinks(sel *goquery.Selection, attr string, base *url.URL) []string {
	set := parse.NewLinkSet()
	sel.Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(attr); ok {
			if abs, ok := parse.ResolveLink(base, v); ok {
				set.Add(abs)
			}
		}
	})
	return set.Links()
}
