package parser

import (
	"github.com/itamarsh/cardledger/internal/domain"
)

// Issuer identifiers, also used as parser names and stored on cards to route
// files back to the right parser.
const (
	IssuerMax      = "max"
	IssuerCal      = "cal"
	IssuerIsracard = "isracard"
)

// StatementParser is implemented once per issuer export format.
//
// CanParse is a cheap structural sniff and never errors outward: unreadable
// or foreign-format files yield false. Parse does the full extraction; a
// missing required metadata field fails the whole call, while row-level
// failures are collected in the result and do not abort the file.
type StatementParser interface {
	CanParse(path string) bool
	Parse(path string) (*domain.ParseResult, error)
	Name() string
}

// HeaderExtractor pulls a card candidate out of the first rows of a file
// without constructing a parser. The detector uses these before any parsing.
type HeaderExtractor func(path string) (*domain.CardInfo, bool)

// FilenameMatcher recognizes an issuer's export filename convention and, when
// the convention embeds the card digits, yields a candidate.
type FilenameMatcher func(filename string) (*domain.CardInfo, bool)

// Registry routes by stored issuer identifier and exposes the per-issuer
// static extractors in a fixed try order.
type Registry struct {
	order     []string
	parsers   map[string]StatementParser
	headers   map[string]HeaderExtractor
	filenames map[string]FilenameMatcher
}

func NewRegistry() *Registry {
	r := &Registry{
		parsers:   make(map[string]StatementParser),
		headers:   make(map[string]HeaderExtractor),
		filenames: make(map[string]FilenameMatcher),
	}
	r.register(NewMaxParser(), ExtractMaxHeader, MatchMaxFilename)
	r.register(NewCalParser(), ExtractCalHeader, MatchCalFilename)
	r.register(NewIsracardParser(), ExtractIsracardHeader, MatchIsracardFilename)
	return r
}

func (r *Registry) register(p StatementParser, h HeaderExtractor, f FilenameMatcher) {
	r.order = append(r.order, p.Name())
	r.parsers[p.Name()] = p
	r.headers[p.Name()] = h
	r.filenames[p.Name()] = f
}

func (r *Registry) Get(name string) (StatementParser, bool) {
	p, ok := r.parsers[name]
	return p, ok
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Detect returns the first parser whose sniff accepts the file.
func (r *Registry) Detect(path string) (StatementParser, bool) {
	for _, name := range r.order {
		if r.parsers[name].CanParse(path) {
			return r.parsers[name], true
		}
	}
	return nil, false
}

// ExtractHeader tries each issuer's header extractor in registration order;
// the first successful extraction wins.
func (r *Registry) ExtractHeader(path string) (*domain.CardInfo, bool) {
	for _, name := range r.order {
		if info, ok := r.headers[name](path); ok {
			return info, true
		}
	}
	return nil, false
}

// MatchFilename tries each issuer's filename convention in registration order.
func (r *Registry) MatchFilename(filename string) (*domain.CardInfo, bool) {
	for _, name := range r.order {
		if info, ok := r.filenames[name](filename); ok {
			return info, true
		}
	}
	return nil, false
}
