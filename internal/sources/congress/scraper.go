// Package congress scrapes member profile pages for politician fields.
package congress

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/civiclens/civiclens/internal/entity"
)

// Config controls the scraper.
type Config struct {
	// BaseURL is the root of the congress-data site, without trailing slash.
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Scraper fetches politician bio, committee and voting record data by
// scraping member profile pages. One collector is built and cloned per
// fetch so callbacks never leak between requests.
type Scraper struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Scraper.
func New(cfg Config, logger *zap.Logger) *Scraper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Scraper{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// BioSource returns the fetch function for the politician bio field.
func (s *Scraper) BioSource() entity.SourceFunc {
	return func(entityID string, fctx map[string]any) entity.FetchResult {
		var bio string
		err := s.scrape(memberURL(s.cfg.BaseURL, entityID, fctx), func(c *colly.Collector) {
			c.OnHTML("div.member-profile p.bio, section#biography p", func(e *colly.HTMLElement) {
				if bio == "" {
					bio = strings.TrimSpace(e.Text)
				}
			})
		})
		if err != nil {
			return entity.FetchResult{Success: false, Error: err.Error()}
		}
		if bio == "" {
			return entity.FetchResult{Success: false, Error: fmt.Sprintf("no bio found for %s", entityID)}
		}
		return entity.FetchResult{Success: true, Data: bio}
	}
}

// CommitteesSource returns the fetch function for the committees field.
func (s *Scraper) CommitteesSource() entity.SourceFunc {
	return func(entityID string, fctx map[string]any) entity.FetchResult {
		committees := []any{}
		err := s.scrape(memberURL(s.cfg.BaseURL, entityID, fctx), func(c *colly.Collector) {
			c.OnHTML("ul.committee-assignments li", func(e *colly.HTMLElement) {
				name := strings.TrimSpace(e.ChildText("span.committee-name"))
				if name == "" {
					name = strings.TrimSpace(e.Text)
				}
				if name == "" {
					return
				}
				committees = append(committees, map[string]any{
					"name": name,
					"role": strings.TrimSpace(e.ChildText("span.role")),
				})
			})
		})
		if err != nil {
			return entity.FetchResult{Success: false, Error: err.Error()}
		}
		return entity.FetchResult{Success: true, Data: committees}
	}
}

// VotingRecordSource returns the fetch function for the voting_record field.
func (s *Scraper) VotingRecordSource() entity.SourceFunc {
	return func(entityID string, fctx map[string]any) entity.FetchResult {
		votes := []any{}
		url := memberURL(s.cfg.BaseURL, entityID, fctx) + "/votes"
		err := s.scrape(url, func(c *colly.Collector) {
			c.OnHTML("table.vote-history tbody tr", func(e *colly.HTMLElement) {
				bill := strings.TrimSpace(e.ChildText("td.bill"))
				if bill == "" {
					return
				}
				votes = append(votes, map[string]any{
					"bill":     bill,
					"question": strings.TrimSpace(e.ChildText("td.question")),
					"position": strings.TrimSpace(e.ChildText("td.position")),
					"date":     strings.TrimSpace(e.ChildText("td.date")),
				})
			})
		})
		if err != nil {
			return entity.FetchResult{Success: false, Error: err.Error()}
		}
		return entity.FetchResult{Success: true, Data: votes}
	}
}

// scrape clones the base collector, lets the caller install callbacks and
// visits the URL synchronously.
func (s *Scraper) scrape(url string, install func(*colly.Collector)) error {
	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.SetRequestTimeout(s.cfg.Timeout)

	var fetchErr error
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})
	install(collector)

	if err := collector.Visit(url); err != nil {
		return fmt.Errorf("visit %s: %w", url, err)
	}
	collector.Wait()
	if fetchErr != nil {
		return fmt.Errorf("fetch %s: %w", url, fetchErr)
	}
	return nil
}

// memberURL resolves the profile URL. A bioguide_id in the fetch context
// takes precedence over the entity id.
func memberURL(baseURL, entityID string, fctx map[string]any) string {
	member := entityID
	if id, ok := fctx[entity.FieldBioguideID].(string); ok && id != "" {
		member = id
	}
	return fmt.Sprintf("%s/member/%s", strings.TrimRight(baseURL, "/"), member)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
