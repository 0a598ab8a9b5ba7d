package extract

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/catalog-scraper/pkg/config"
	"github.com/Sriram-PR/catalog-scraper/pkg/models"
	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

// Extractor maps a fetched page to structured data. Implementations must be pure:
// the same (pageURL, markup) always yields the same result.
type Extractor interface {
	// Group extracts the title and child group links of a catalog group page
	Group(pageURL string, markup []byte) (models.GroupPage, error)
	// Listing extracts product links from one page of a paginated listing
	Listing(pageURL string, markup []byte) (models.ListingPage, error)
	// Product extracts a Record from a product detail page
	Product(pageURL string, markup []byte) (models.Record, error)
}

// presets holds the selector sets of the supported storefront engines
var presets = map[string]config.SelectorConfig{
	"prom.ua": {
		GroupTitle:      "h1",
		Subgroups:       "a.b-product-groups-gallery__title",
		ListingProducts: "a.b-product-gallery__title",
		ProductTitle:    "h1",
		Price:           "p.b-product-cost__price",
		Image:           "img.b-product-view__image",
		ExtraImages:     "div.b-extra-photos a.b-extra-photos__item",
		UserContent:     "div.b-user-content",
		Characteristics: "table.b-product-info",
		SpecLinks:       "a.b-spec-list__link",
	},
}

// Preset returns the selector set registered under name
func Preset(name string) (config.SelectorConfig, bool) {
	sel, ok := presets[name]
	return sel, ok
}

// Presets returns the registered preset names, sorted
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the extractor for a validated site configuration.
// Selector overrides from siteCfg.Selectors replace the matching preset fields.
func New(siteCfg config.SiteConfig, includeMarkdown bool, log *logrus.Entry) (*SelectorExtractor, error) {
	preset, ok := Preset(siteCfg.Extractor)
	if !ok {
		return nil, fmt.Errorf("%w: unknown extractor '%s' (available: %v)", utils.ErrConfigValidation, siteCfg.Extractor, Presets())
	}

	var homepage *url.URL
	if siteCfg.Homepage != "" {
		u, err := url.Parse(siteCfg.Homepage)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid homepage '%s': %v", utils.ErrConfigValidation, siteCfg.Homepage, err)
		}
		homepage = u
	}

	return &SelectorExtractor{
		sel:             mergeSelectors(preset, siteCfg.Selectors),
		homepage:        homepage,
		includeMarkdown: includeMarkdown,
		log:             log.WithField("extractor", siteCfg.Extractor),
	}, nil
}

func mergeSelectors(base, override config.SelectorConfig) config.SelectorConfig {
	pick := func(b, o string) string {
		if o != "" {
			return o
		}
		return b
	}
	return config.SelectorConfig{
		GroupTitle:      pick(base.GroupTitle, override.GroupTitle),
		Subgroups:       pick(base.Subgroups, override.Subgroups),
		ListingProducts: pick(base.ListingProducts, override.ListingProducts),
		ProductTitle:    pick(base.ProductTitle, override.ProductTitle),
		Price:           pick(base.Price, override.Price),
		Image:           pick(base.Image, override.Image),
		ExtraImages:     pick(base.ExtraImages, override.ExtraImages),
		UserContent:     pick(base.UserContent, override.UserContent),
		Characteristics: pick(base.Characteristics, override.Characteristics),
		SpecLinks:       pick(base.SpecLinks, override.SpecLinks),
	}
}
