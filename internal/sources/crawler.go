package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stwalsh4118/parcelheat/internal/models"
)

// Placeholders substituted into the crawler URL template.
const (
	CountyPlaceholder = "{county}"
	PagePlaceholder   = "{page}"
)

// recordRowSelector matches one filing in a county listing page.
const recordRowSelector = "tr[data-record-id]"

// typicalSeverity is used when a listing does not grade the filing.
var typicalSeverity = map[models.EventType]int{
	models.EventPreForeclosure: 9,
	models.EventProbate:        8,
	models.EventBankruptcy:     7,
	models.EventTaxLien:        6,
	models.EventDivorce:        6,
	models.EventInherited:      6,
	models.EventVacant:         5,
	models.EventCodeViolation:  4,
	models.EventAbsentee:       3,
	models.EventFSBO:           3,
}

// filingAliases maps clerk terminology onto event types.
var filingAliases = map[string]models.EventType{
	"lis_pendens":        models.EventPreForeclosure,
	"notice_of_default":  models.EventPreForeclosure,
	"foreclosure":        models.EventPreForeclosure,
	"estate":             models.EventProbate,
	"delinquent_tax":     models.EventTaxLien,
	"tax_delinquency":    models.EventTaxLien,
	"dissolution":        models.EventDivorce,
	"chapter_7":          models.EventBankruptcy,
	"chapter_13":         models.EventBankruptcy,
	"code_enforcement":   models.EventCodeViolation,
	"for_sale_by_owner":  models.EventFSBO,
	"vacant_property":    models.EventVacant,
	"absentee_owner":     models.EventAbsentee,
	"inherited_property": models.EventInherited,
	"heirship":           models.EventInherited,
}

// CrawlerAdapter scrapes public-record listing pages. It sees every filing
// in the county, so it is a broad-tier source.
type CrawlerAdapter struct {
	client   *Client
	template string
	name     string
	maxPages int
}

// NewCrawlerAdapter creates a crawler over urlTemplate, which must contain
// {county} and may contain {page} (1-based).
func NewCrawlerAdapter(name, urlTemplate string, maxPages int, timeout time.Duration) *CrawlerAdapter {
	if maxPages <= 0 {
		maxPages = 1
	}
	return &CrawlerAdapter{
		client:   NewClient(timeout, timeout*2),
		template: urlTemplate,
		name:     name,
		maxPages: maxPages,
	}
}

func (a *CrawlerAdapter) Name() string      { return a.name }
func (a *CrawlerAdapter) Tier() models.Tier { return models.TierBroad }

// ProduceRecords crawls each county until a page has no rows or maxPages is
// reached. Templates without {page} are fetched once per county.
func (a *CrawlerAdapter) ProduceRecords(ctx context.Context, counties []string) ([]NormalizedSignal, error) {
	var out []NormalizedSignal
	for _, county := range counties {
		for page := 1; page <= a.maxPages; page++ {
			if err := ctx.Err(); err != nil {
				return out, err
			}

			pageURL := a.pageURL(county, page)
			body, err := a.client.Get(ctx, pageURL)
			if err != nil {
				return out, err
			}

			records, err := a.parsePage(body, pageURL, county)
			if err != nil {
				return out, err
			}
			out = append(out, records...)

			if len(records) == 0 || !strings.Contains(a.template, PagePlaceholder) {
				break
			}
		}
	}
	return out, nil
}

func (a *CrawlerAdapter) pageURL(county string, page int) string {
	u := strings.ReplaceAll(a.template, CountyPlaceholder, url.PathEscape(county))
	return strings.ReplaceAll(u, PagePlaceholder, strconv.Itoa(page))
}

func (a *CrawlerAdapter) parsePage(body []byte, pageURL, county string) ([]NormalizedSignal, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s listing: %w", a.name, err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid crawler url: %w", err)
	}

	var records []NormalizedSignal
	doc.Find(recordRowSelector).Each(func(_ int, row *goquery.Selection) {
		cell := func(class string) string {
			return strings.TrimSpace(row.Find("td." + class).First().Text())
		}

		id, _ := row.Attr("data-record-id")
		filing := cell("type")
		eventType := parseFilingType(filing)

		sig := NormalizedSignal{
			Origin:       models.OriginCrawler,
			Source:       a.name,
			SourceID:     strings.TrimSpace(id),
			ParcelID:     cell("parcel"),
			County:       county,
			OwnerName:    cell("owner"),
			Address:      cell("address"),
			City:         cell("city"),
			State:        cell("state"),
			DistressType: eventType,
			Severity:     typicalSeverity[eventType],
			RawPayload: map[string]interface{}{
				"record_id": strings.TrimSpace(id),
				"filing":    filing,
				"parcel":    cell("parcel"),
				"owner":     cell("owner"),
				"address":   cell("address"),
				"filed":     cell("filed"),
			},
		}

		if v, err := strconv.Atoi(cell("severity")); err == nil {
			sig.Severity = v
		}
		if observed, err := ParseDate(cell("filed")); err == nil {
			sig.ObservedDate = observed
		}
		if href, ok := row.Find("a[href]").First().Attr("href"); ok {
			if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
				sig.SourceLink = base.ResolveReference(ref).String()
			}
		}
		if age, err := strconv.Atoi(cell("owner-age")); err == nil {
			sig.RawPayload["owner_age"] = age
		}

		records = append(records, sig)
	})
	return records, nil
}

// parseFilingType maps a listing's filing label ("Tax Lien", "Lis Pendens")
// to an event type. Unknown labels map to an invalid type.
func parseFilingType(label string) models.EventType {
	key := strings.ToLower(strings.Join(strings.Fields(label), "_"))
	if alias, ok := filingAliases[key]; ok {
		return alias
	}
	key = strings.ReplaceAll(key, "-", "_")
	if alias, ok := filingAliases[key]; ok {
		return alias
	}
	return models.EventType(key)
}
