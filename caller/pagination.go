package caller

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"golang.org/x/sync/errgroup"
)

type (
	pageLink struct {
		URL     string
		Page    int
		HasPage bool
	}

	pageLinks map[string]pageLink
)

var linkPattern = regexp.MustCompile(`<([^>]*)>\s*;\s*rel="([^"]*)"`)

// parseLinks reads an RFC 8288 Link header into rel -> link.
func parseLinks(header string) pageLinks {
	if header == "" {
		return nil
	}
	links := make(pageLinks)
	for _, m := range linkPattern.FindAllStringSubmatch(header, -1) {
		link := pageLink{URL: m[1]}
		if u, err := url.Parse(m[1]); err == nil {
			if page, err := strconv.Atoi(u.Query().Get("page")); err == nil {
				link.Page, link.HasPage = page, true
			}
		}
		links[m[2]] = link
	}
	return links
}

// isFirstOfMany is true for page one of a listing that has more pages.
func (l pageLinks) isFirstOfMany() bool {
	if l == nil {
		return false
	}
	if _, ok := l["next"]; !ok {
		return false
	}
	current, ok := l["current"]
	if !ok {
		return false
	}
	if current.HasPage {
		return current.Page == 1
	}
	first, ok := l["first"]
	return ok && first.URL == current.URL
}

// lastPage is the advertised page count, if the remote gave a numeric one.
func (l pageLinks) lastPage() (int, bool) {
	last, ok := l["last"]
	if !ok || !last.HasPage {
		return 0, false
	}
	return last.Page, true
}

// paginate fetches the remaining pages of a listing whose first page is
// already in hand and returns the bodies in page order, first page included.
// With an advertised page count the rest are fetched concurrently; without
// one the "next" links are followed one at a time.
func (d *Dispatcher) paginate(ctx context.Context, first *response) ([]any, error) {
	links := parseLinks(first.header.Get("Link"))
	if !links.isFirstOfMany() {
		return []any{first.body}, nil
	}

	// a "last" before page two cannot be right while "next" exists; trust next then
	if last, ok := links.lastPage(); ok && last >= 2 {
		return d.fetchPagesConcurrently(ctx, first, links["current"].URL, last)
	}
	return d.followNextLinks(ctx, first, links["next"].URL)
}

func (d *Dispatcher) fetchPagesConcurrently(ctx context.Context, first *response, current string, last int) ([]any, error) {
	base, err := url.Parse(current)
	if err != nil {
		return nil, fmt.Errorf("invalid current page link %q: %w", current, err)
	}

	bodies := make([]any, last)
	bodies[0] = first.body

	g, gctx := errgroup.WithContext(ctx)
	for page := 2; page <= last; page++ {
		pageURL := *base
		q := pageURL.Query()
		q.Set("page", strconv.Itoa(page))
		pageURL.RawQuery = q.Encode()

		g.Go(func() error {
			resp, err := d.roundTrip(gctx, Get(pageURL.String(), nil))
			if err != nil {
				return err
			}
			bodies[page-1] = resp.body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}

func (d *Dispatcher) followNextLinks(ctx context.Context, first *response, next string) ([]any, error) {
	bodies := []any{first.body}
	seen := map[string]bool{}
	for next != "" {
		if seen[next] {
			return nil, fmt.Errorf("pagination loop detected at %s", next)
		}
		seen[next] = true

		resp, err := d.roundTrip(ctx, Get(next, nil))
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, resp.body)
		next = parseLinks(resp.header.Get("Link"))["next"].URL
	}
	return bodies, nil
}

// concatPages joins page bodies. Pages are lists, or objects with a single key
// wrapping a list (e.g. {"quiz_submissions": [...]}), which are unwrapped,
// joined and rewrapped.
func concatPages(bodies []any) (any, error) {
	if len(bodies) == 1 {
		return bodies[0], nil
	}

	wrapper, err := wrapperKey(bodies[0])
	if err != nil {
		return nil, err
	}

	joined := make([]any, 0)
	for i, body := range bodies {
		items, err := pageItems(body, wrapper)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		joined = append(joined, items...)
	}

	if wrapper == "" {
		return joined, nil
	}
	return map[string]any{wrapper: joined}, nil
}

func wrapperKey(body any) (string, error) {
	switch b := body.(type) {
	case []any:
		return "", nil
	case map[string]any:
		if len(b) == 1 {
			for key, value := range b {
				if _, ok := value.([]any); ok {
					return key, nil
				}
			}
		}
	}
	return "", fmt.Errorf("paginated body is neither a list nor a single-key list wrapper: %T", body)
}

func pageItems(body any, wrapper string) ([]any, error) {
	if wrapper == "" {
		items, ok := body.([]any)
		if !ok {
			return nil, fmt.Errorf("expected a list body, got %T", body)
		}
		return items, nil
	}
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object wrapping %q, got %T", wrapper, body)
	}
	items, ok := obj[wrapper].([]any)
	if !ok {
		return nil, fmt.Errorf("expected %q to hold a list, got %T", wrapper, obj[wrapper])
	}
	return items, nil
}
