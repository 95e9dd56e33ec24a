package ngdtool

import (
	"context"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/osngd/internal/envelope"
	"github.com/MrWong99/osngd/internal/guard"
	"github.com/MrWong99/osngd/internal/mcp/tools"
	"github.com/MrWong99/osngd/internal/ngd"
)

var (
	uprnRe     = regexp.MustCompile(`^[0-9]{1,12}$`)
	postcodeRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ]{0,7}$`)

	datasets   = []string{"DPA", "LPI", "DPA,LPI"}
	languages  = []string{"EN", "CY"}
	outputSRSs = []string{"BNG", "EPSG:27700", "WGS84", "EPSG:4326", "EPSG:3857", "EPSG:4258"}
)

// placesArgs is shared by both address lookups. UPRN accepts a JSON number
// or string.
type placesArgs struct {
	UPRN       uprnValue `json:"uprn"`
	Postcode   string    `json:"postcode"`
	Dataset    string    `json:"dataset"`
	LR         string    `json:"lr"`
	OutputSRS  string    `json:"output_srs"`
	FQ         []string  `json:"fq"`
	MaxResults *int      `json:"maxresults"`
}

// uprnValue decodes either 200010019924 or "200010019924".
type uprnValue string

func (u *uprnValue) UnmarshalJSON(b []byte) error {
	*u = uprnValue(strings.Trim(string(b), `"`))
	return nil
}

// common validates the options shared by both lookups and renders them.
func (a placesArgs) common() (url.Values, error) {
	q := url.Values{}
	q.Set("format", "JSON")

	pick := func(name, value, def string, allowed []string) error {
		if value == "" {
			value = def
		}
		if !slices.Contains(allowed, strings.ToUpper(value)) {
			return envelope.InvalidInput("%s must be one of %s, got %q", name, strings.Join(allowed, ", "), value)
		}
		q.Set(name, strings.ToUpper(value))
		return nil
	}
	if err := pick("dataset", a.Dataset, "DPA", datasets); err != nil {
		return nil, err
	}
	if err := pick("lr", a.LR, "EN", languages); err != nil {
		return nil, err
	}
	if err := pick("output_srs", a.OutputSRS, "EPSG:27700", outputSRSs); err != nil {
		return nil, err
	}
	for _, f := range a.FQ {
		if err := guard.ValidateIdentifier("fq", f); err != nil {
			return nil, err
		}
		q.Add("fq", f)
	}
	return q, nil
}

func (h *handlers) searchByUPRN(ctx context.Context, args string) (string, error) {
	var a placesArgs
	if err := tools.Decode(args, &a); err != nil {
		return "", err
	}
	if !uprnRe.MatchString(string(a.UPRN)) {
		return "", envelope.InvalidInput("uprn must be a number of up to 12 digits, got %q", string(a.UPRN))
	}
	q, err := a.common()
	if err != nil {
		return "", err
	}
	q.Set("uprn", string(a.UPRN))
	data, err := h.up.Get(ctx, ngd.Request{Kind: ngd.KindPlacesUPRN, Query: q})
	if err != nil {
		return "", err
	}
	return tools.Encode(data)
}

func (h *handlers) searchByPostcode(ctx context.Context, args string) (string, error) {
	var a placesArgs
	if err := tools.Decode(args, &a); err != nil {
		return "", err
	}
	pc := strings.TrimSpace(a.Postcode)
	if !postcodeRe.MatchString(pc) {
		return "", envelope.InvalidInput("postcode %q is not a valid full or partial postcode", a.Postcode)
	}
	maxResults := guard.MaxLimit
	if a.MaxResults != nil {
		maxResults = *a.MaxResults
	}
	if maxResults < 1 || maxResults > guard.MaxLimit {
		return "", envelope.InvalidInput("maxresults must be between 1 and %d, got %d", guard.MaxLimit, maxResults)
	}
	q, err := a.common()
	if err != nil {
		return "", err
	}
	q.Set("postcode", strings.ToUpper(pc))
	q.Set("maxresults", strconv.Itoa(maxResults))
	data, err := h.up.Get(ctx, ngd.Request{Kind: ngd.KindPlacesPostcode, Query: q})
	if err != nil {
		return "", err
	}
	return tools.Encode(data)
}

func (h *handlers) placesTools() []tools.Tool {
	common := map[string]any{
		"dataset":    tools.Enum("Dataset to return", datasets...),
		"lr":         tools.Enum("Language of the addresses", languages...),
		"output_srs": tools.Enum("Output spatial reference system", outputSRSs...),
	}
	withCommon := func(extra map[string]any) map[string]any {
		props := make(map[string]any, len(common)+len(extra))
		for k, v := range common {
			props[k] = v
		}
		for k, v := range extra {
			props[k] = v
		}
		return props
	}

	return []tools.Tool{
		{
			Definition: tools.Definition{
				Name:        "search_by_uprn",
				Description: "Find addresses by UPRN (Unique Property Reference Number) using the OS Places API.",
				Parameters: tools.Object(withCommon(map[string]any{
					"uprn": tools.String("UPRN, up to 12 digits"),
					"fq":   tools.StringList("Filters such as 'CLASSIFICATION_CODE:RD04' or 'LOGICAL_STATUS_CODE:1'", 0),
				}), "uprn"),
				Idempotent: true,
			},
			Handler:     h.searchByUPRN,
			DeclaredP50: 800,
			DeclaredMax: 60_000,
		},
		{
			Definition: tools.Definition{
				Name:        "search_by_postcode",
				Description: "Find addresses by full or partial postcode using the OS Places API.",
				Parameters: tools.Object(withCommon(map[string]any{
					"postcode":   tools.String("Full or partial postcode, e.g. 'CV34 4RL'"),
					"maxresults": tools.Integer("Maximum number of results", 1, guard.MaxLimit, guard.MaxLimit),
				}), "postcode"),
				Idempotent: true,
			},
			Handler:     h.searchByPostcode,
			DeclaredP50: 800,
			DeclaredMax: 60_000,
		},
	}
}
