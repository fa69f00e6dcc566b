package seed

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Feed names an official open-data roster.
type Feed string

const (
	FeedDeputies Feed = "deputes"
	FeedSenators Feed = "senateurs"
	FeedMayors   Feed = "maires"
)

// DefaultFeedURLs are tried in order until one answers.
var DefaultFeedURLs = map[Feed][]string{
	FeedDeputies: {
		"https://data.assemblee-nationale.fr/static/openData/repository/17/amo/deputes/AMO30_deputes_actifs_mandats_actifs_organes_divises.json",
		"https://data.assemblee-nationale.fr/static/openData/repository/16/amo/deputes/AMO30_deputes_actifs_mandats_actifs_organes_divises.json",
	},
	FeedSenators: {"https://data.senat.fr/data/senateurs/ODSEN_GENERAL.csv"},
	FeedMayors:   {"https://www.data.gouv.fr/fr/datasets/r/d5f400de-ae3f-4966-8cb6-a85c70c6c24a"},
}

// ParseFeed validates a feed name.
func ParseFeed(name string) (Feed, error) {
	f := Feed(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := DefaultFeedURLs[f]; !ok {
		return "", fmt.Errorf("unknown feed %q (want deputes, senateurs or maires)", name)
	}
	return f, nil
}

// Decode parses one feed document into seed entries.
func (f Feed) Decode(r io.Reader) (*File, error) {
	switch f {
	case FeedDeputies:
		return DecodeDeputies(r)
	case FeedSenators:
		return DecodeSenators(r)
	case FeedMayors:
		return DecodeMayors(r)
	default:
		return nil, fmt.Errorf("unknown feed %q", string(f))
	}
}

// Fetcher downloads rosters over HTTP.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

func WithFetchLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = logger }
}

func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 60 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch tries urls in order and decodes the first document that downloads
// and parses. With no urls the feed's defaults are used.
func (f *Fetcher) Fetch(ctx context.Context, feed Feed, urls ...string) (*File, error) {
	if len(urls) == 0 {
		urls = DefaultFeedURLs[feed]
	}
	var errs []error
	for _, url := range urls {
		doc, err := f.fetchOne(ctx, feed, url)
		if err == nil {
			f.logger.InfoContext(ctx, "feed fetched", "feed", string(feed), "url", url, "entries", len(doc.Politicians))
			return doc, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.WarnContext(ctx, "feed url failed", "feed", string(feed), "url", url, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", url, err))
	}
	return nil, fmt.Errorf("feed %s unavailable: %w", feed, errors.Join(errs...))
}

func (f *Fetcher) fetchOne(ctx context.Context, feed Feed, url string) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return feed.Decode(resp.Body)
}

// oneOrMany decodes a JSON value that is either a single object or a list,
// as the Assemblée nationale exports do for one-element collections.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*o = nil
		return nil
	}
	if b[0] == '[' {
		var list []T
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*o = list
		return nil
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*o = []T{one}
	return nil
}

type amoName struct {
	Prenom string `json:"prenom"`
	Nom    string `json:"nom"`
}

type amoOrgane struct {
	CodeType string `json:"@codeType"`
	Libelle  string `json:"libelle"`
}

type amoMandat struct {
	Organes struct {
		Organe oneOrMany[amoOrgane] `json:"organe"`
	} `json:"organes"`
}

type amoActeur struct {
	EtatCivil struct {
		amoName
		Ident amoName `json:"ident"`
	} `json:"etatCivil"`
	Mandats struct {
		Mandat oneOrMany[amoMandat] `json:"mandat"`
	} `json:"mandats"`
}

const unaffiliated = "Non inscrit"

// DecodeDeputies reads the Assemblée nationale AMO export. The party is the
// first political group (codeType GP) among the deputy's mandates.
func DecodeDeputies(r io.Reader) (*File, error) {
	var doc struct {
		Export struct {
			Acteurs struct {
				Acteur oneOrMany[amoActeur] `json:"acteur"`
			} `json:"acteurs"`
		} `json:"export"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode deputies: %w", err)
	}
	out := &File{}
	for _, a := range doc.Export.Acteurs.Acteur {
		name := a.EtatCivil.Ident
		if name.Prenom == "" && name.Nom == "" {
			name = a.EtatCivil.amoName
		}
		out.Politicians = append(out.Politicians, Entry{
			FirstName: name.Prenom,
			LastName:  name.Nom,
			Party:     deputyGroup(a.Mandats.Mandat),
			Position:  "Député",
		})
	}
	return out, nil
}

func deputyGroup(mandats []amoMandat) string {
	for _, m := range mandats {
		for _, o := range m.Organes.Organe {
			if o.CodeType == "GP" && strings.TrimSpace(o.Libelle) != "" {
				return o.Libelle
			}
		}
	}
	return unaffiliated
}

// DecodeSenators reads the Sénat ODSEN_GENERAL export and keeps senators
// whose mandate has no end date.
func DecodeSenators(r io.Reader) (*File, error) {
	rows, err := readCSV(r)
	if err != nil {
		return nil, fmt.Errorf("decode senators: %w", err)
	}
	out := &File{}
	for _, row := range rows {
		if row.get("Date de fin de mandat") != "" {
			continue
		}
		last := row.get("Nom usage")
		if last == "" {
			last = row.get("Nom")
		}
		out.Politicians = append(out.Politicians, Entry{
			FirstName: row.get("Prénom"),
			LastName:  last,
			Party:     row.get("Groupe politique"),
			Position:  "Sénateur",
		})
	}
	return out, nil
}

// largeCities are the communes whose mayors are imported from the national
// register of elected officials.
var largeCities = map[string]struct{}{
	"PARIS": {}, "MARSEILLE": {}, "LYON": {}, "TOULOUSE": {}, "NICE": {}, "NANTES": {},
	"MONTPELLIER": {}, "STRASBOURG": {}, "BORDEAUX": {}, "LILLE": {}, "RENNES": {},
	"REIMS": {}, "SAINT-ETIENNE": {}, "TOULON": {}, "LE HAVRE": {}, "GRENOBLE": {},
	"DIJON": {}, "ANGERS": {}, "NIMES": {}, "VILLEURBANNE": {}, "CLERMONT-FERRAND": {},
}

// DecodeMayors reads the RNE mayors export, keeping large cities only.
func DecodeMayors(r io.Reader) (*File, error) {
	rows, err := readCSV(r)
	if err != nil {
		return nil, fmt.Errorf("decode mayors: %w", err)
	}
	out := &File{}
	for _, row := range rows {
		commune := row.get("Libellé de la commune")
		if _, ok := largeCities[strings.ToUpper(commune)]; !ok {
			continue
		}
		party := row.get("Libellé de la nuance")
		if party == "" {
			party = "Non renseigné"
		}
		out.Politicians = append(out.Politicians, Entry{
			FirstName: row.get("Prénom"),
			LastName:  row.get("Nom"),
			Party:     party,
			Position:  "Maire de " + commune,
		})
	}
	return out, nil
}

type csvRow struct {
	index  map[string]int
	fields []string
}

func (r csvRow) get(col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// readCSV parses a semicolon-separated export with a header row. Exports
// that are not valid UTF-8 are read as Windows-1252.
func readCSV(r io.Reader) ([]csvRow, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(body) {
		body, err = charmap.Windows1252.NewDecoder().Bytes(body)
		if err != nil {
			return nil, err
		}
	}
	body = bytes.TrimPrefix(body, []byte("\ufeff"))

	cr := csv.NewReader(bytes.NewReader(body))
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	index := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		index[strings.TrimSpace(h)] = i
	}
	rows := make([]csvRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		rows = append(rows, csvRow{index: index, fields: rec})
	}
	return rows, nil
}
