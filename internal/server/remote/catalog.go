package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sethvargo/go-retry"
	"golang.org/x/net/html"
)

// catalogResponse - ответ all-packages и changed-packages
type catalogResponse struct {
	Projects map[string]int64 `json:"projects"`
}

// discover получает список проектов по протоколу каталога.
// serial == 0 запрашивает полный список, иначе только изменения.
func (c *Client) discover(ctx context.Context, base string, serial int64) ([]string, int64, error) {
	url := joinURL(base, "all-packages")
	if serial > 0 {
		url = fmt.Sprintf("%s?since=%d", joinURL(base, "changed-packages"), serial)
	}

	var catalog catalogResponse
	backoff := retry.WithMaxRetries(uint64(c.attempts-1), retry.NewExponential(c.backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		body, err := c.get(ctx, url, "application/json")
		if err != nil {
			c.logger.Warn("catalog request failed", "url", url, "error", err)
			return retry.RetryableError(err)
		}

		catalog = catalogResponse{}
		if err := json.Unmarshal(body, &catalog); err != nil {
			c.logger.Warn("catalog response is not valid", "url", url, "error", err)
			return retry.RetryableError(fmt.Errorf("failed to decode catalog: %w", err))
		}
		if catalog.Projects == nil {
			return retry.RetryableError(fmt.Errorf("catalog has no projects field"))
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, fmt.Errorf("%w: %w", ErrProtocolUnsupported, err)
	}

	watermark := serial
	names := make([]string, 0, len(catalog.Projects))
	for name, s := range catalog.Projects {
		names = append(names, name)
		if s > watermark {
			watermark = s
		}
	}
	sort.Strings(names)

	return names, watermark, nil
}

// listSimple разбирает простую HTML-страницу индекса: имя проекта - текст ссылки
func (c *Client) listSimple(ctx context.Context, base string) ([]string, error) {
	body, err := c.get(ctx, joinURL(base, "simple")+"/", "text/html")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch simple index: %w", err)
	}

	names, err := parseSimpleIndex(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse simple index: %w", err)
	}
	return names, nil
}

func parseSimpleIndex(body []byte) ([]string, error) {
	seen := make(map[string]struct{})
	var names []string

	z := html.NewTokenizer(bytes.NewReader(body))
	inAnchor := false
	var text strings.Builder

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			sort.Strings(names)
			return names, nil
		case html.StartTagToken:
			if name, _ := z.TagName(); string(name) == "a" {
				inAnchor = true
				text.Reset()
			}
		case html.TextToken:
			if inAnchor {
				text.Write(z.Text())
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "a" && inAnchor {
				inAnchor = false
				project := strings.TrimSpace(text.String())
				if project == "" {
					continue
				}
				if _, ok := seen[project]; !ok {
					seen[project] = struct{}{}
					names = append(names, project)
				}
			}
		}
	}
}
