// Package commands binds prefixed chat commands to the query engine.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/stellarlinkco/chatcounter/internal/query"
	"github.com/stellarlinkco/chatcounter/internal/report"
)

const DefaultPrefix = "!"

// maxPagers bounds the open dumps; the least recently opened is dropped first.
const maxPagers = 256

// Request is one chat message that may hold a command.
type Request struct {
	// Session identifies the conversation that owns dump paging state.
	Session     string
	UserID      string
	CommunityID string
	Text        string
}

// Router parses commands and renders replies. Dump pagers are kept per session.
type Router struct {
	engine *query.Engine
	prefix string
	names  report.Namer
	logger *slog.Logger

	mu        sync.Mutex
	pagers    map[string]*query.Pager[query.WordCount]
	order     []string
	maxPagers int
}

type Option func(*Router)

// WithNamer sets the user display name resolver used by leaderboards.
func WithNamer(n report.Namer) Option {
	return func(r *Router) { r.names = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

func NewRouter(engine *query.Engine, prefix string, opts ...Option) *Router {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	r := &Router{
		engine: engine,
		prefix: prefix,
		logger: slog.Default(),
		pagers: make(map[string]*query.Pager[query.WordCount]),

		maxPagers: maxPagers,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string { return r.prefix }

// Handle runs the command in req.Text. handled is false when the text is not
// a known command, in which case reply is empty.
func (r *Router) Handle(req Request) (reply string, handled bool) {
	fields := strings.Fields(req.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], r.prefix) {
		return "", false
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], r.prefix))
	args := fields[1:]

	var err error
	switch name {
	case "leaderboard", "lb":
		reply, err = r.leaderboard(req, args)
	case "topwords":
		reply, err = r.topWords(req, args, query.AllWords)
	case "topdict":
		reply, err = r.topWords(req, args, query.DictOnly)
	case "wordstats", "ws":
		reply, err = r.wordStats(req, args)
	case "help":
		reply = r.Help()
	default:
		return "", false
	}
	if err != nil {
		if !errors.Is(err, query.ErrInvalidScope) {
			r.logger.Error("commands: query failed", "command", name, "error", err)
			return "Something went wrong running that command.", true
		}
		r.logger.Debug("commands: invalid scope", "command", name, "error", err)
		return fmt.Sprintf("Unknown scope. Try `%shelp`.", r.prefix), true
	}
	return reply, true
}

func (r *Router) scope(req Request, args []string, at int) (query.Scope, error) {
	token := ""
	if at < len(args) {
		token = args[at]
	}
	return query.ParseScope(token, req.CommunityID, req.UserID)
}

func (r *Router) leaderboard(req Request, args []string) (string, error) {
	scope, err := r.scope(req, args, 0)
	if err != nil {
		return "", err
	}
	lb, err := r.engine.Leaderboard(scope)
	if err != nil {
		return "", err
	}
	return report.Leaderboard(lb, r.names), nil
}

func (r *Router) topWords(req Request, args []string, filter query.WordFilter) (string, error) {
	scope, err := r.scope(req, args, 0)
	if err != nil {
		return "", err
	}
	list, err := r.engine.TopWords(scope, filter)
	if err != nil {
		return "", err
	}
	return report.TopWords(list), nil
}

func (r *Router) wordStats(req Request, args []string) (string, error) {
	if len(args) == 0 {
		return r.wordStatsUsage(), nil
	}
	sub, rest := strings.ToLower(args[0]), args[1:]
	switch sub {
	case "ratio":
		return r.ratio(req, rest)
	case "least":
		scope, err := r.scope(req, rest, 0)
		if err != nil {
			return "", err
		}
		list, err := r.engine.LeastUsed(scope)
		if err != nil {
			return "", err
		}
		return report.LeastUsed(list), nil
	case "search":
		if len(rest) == 0 {
			return report.Search(query.WordLookup{}), nil
		}
		scope, err := r.scope(req, rest, 1)
		if err != nil {
			return "", err
		}
		res, err := r.engine.Search(scope, rest[0])
		if err != nil {
			return "", err
		}
		return report.Search(res), nil
	case "dump":
		return r.dump(req, rest)
	case "next", "prev":
		return r.turnPage(req, sub), nil
	}
	return r.wordStatsUsage(), nil
}

func (r *Router) ratio(req Request, args []string) (string, error) {
	target := true
	var scopeArgs []string
	for _, a := range args {
		switch strings.ToLower(a) {
		case "dict", "dictionary":
			target = true
		case "nondict", "non-dict", "nondictionary":
			target = false
		default:
			scopeArgs = append(scopeArgs, a)
		}
	}
	scope, err := r.scope(req, scopeArgs, 0)
	if err != nil {
		return "", err
	}
	ratio, err := r.engine.DictionaryRatio(scope, target)
	if err != nil {
		return "", err
	}
	return report.Ratio(ratio), nil
}

func (r *Router) dump(req Request, args []string) (string, error) {
	scope, err := r.scope(req, args, 0)
	if err != nil {
		return "", err
	}
	d, err := r.engine.Dump(scope)
	if err != nil {
		return "", err
	}
	if d.Empty() {
		r.mu.Lock()
		r.dropPager(req.Session)
		r.mu.Unlock()
		return report.NoWordData, nil
	}
	pager := query.NewPager(d.Pages)
	r.mu.Lock()
	r.dropPager(req.Session)
	r.pagers[req.Session] = pager
	r.order = append(r.order, req.Session)
	for len(r.order) > r.maxPagers {
		delete(r.pagers, r.order[0])
		r.order = r.order[1:]
	}
	r.mu.Unlock()

	page, _ := pager.Current()
	return r.withNav(report.DumpPage(page), pager.Len()), nil
}

// dropPager forgets the session's pager. Callers hold r.mu.
func (r *Router) dropPager(session string) {
	if _, ok := r.pagers[session]; !ok {
		return
	}
	delete(r.pagers, session)
	for i, s := range r.order {
		if s == session {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Router) turnPage(req Request, dir string) string {
	r.mu.Lock()
	pager := r.pagers[req.Session]
	r.mu.Unlock()
	if pager == nil {
		return fmt.Sprintf("No dump open here. Run `%swordstats dump` first.", r.prefix)
	}

	var page query.Page[query.WordCount]
	if dir == "next" {
		page, _ = pager.Next()
	} else {
		page, _ = pager.Prev()
	}
	return r.withNav(report.DumpPage(page), pager.Len())
}

func (r *Router) withNav(body string, pages int) string {
	if pages < 2 {
		return body
	}
	return fmt.Sprintf("%s\n%swordstats prev | %swordstats next", body, r.prefix, r.prefix)
}

func (r *Router) wordStatsUsage() string {
	p := r.prefix
	return fmt.Sprintf("Usage: `%[1]swordstats ratio [dict|nondict] [scope]`, `%[1]swordstats least [scope]`, "+
		"`%[1]swordstats search <word> [scope]`, `%[1]swordstats dump [scope]`, `%[1]swordstats next`, `%[1]swordstats prev`", p)
}

// Help lists every command.
func (r *Router) Help() string {
	p := r.prefix
	lines := []string{
		"**Help - Available Commands**",
		fmt.Sprintf("`%sleaderboard [global|guild]` top users by message count", p),
		fmt.Sprintf("`%stopwords [overall|guild|me]` most used words", p),
		fmt.Sprintf("`%stopdict [overall|guild|me]` most used dictionary words", p),
		fmt.Sprintf("`%swordstats ratio [dict|nondict] [scope]` dictionary word percentage", p),
		fmt.Sprintf("`%swordstats least [scope]` least used words", p),
		fmt.Sprintf("`%swordstats search <word> [scope]` how often a word was used", p),
		fmt.Sprintf("`%swordstats dump [scope]` every word, 10 per page; then `%swordstats next` or `prev`", p, p),
		fmt.Sprintf("`%shelp` this message", p),
	}
	return strings.Join(lines, "\n")
}
