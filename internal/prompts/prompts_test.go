package prompts

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestDefault_Loads(t *testing.T) {
	t.Parallel()
	c := Default()
	if c.Len() != 45 {
		t.Errorf("Len = %d, want 45", c.Len())
	}
	names := make([]string, 0)
	for _, cat := range c.Categories() {
		names = append(names, cat.Name)
	}
	if got := strings.Join(names, ","); got != "diagnostics,planning,routing,usrn,warwickshire" {
		t.Errorf("categories = %s", got)
	}
}

func TestFilter(t *testing.T) {
	t.Parallel()
	c := Default()

	if got := c.Filter(""); len(got) != c.Len() {
		t.Errorf("empty filter returned %d, want all %d", len(got), c.Len())
	}

	warks := c.Filter("Warwickshire")
	if len(warks) != 14 {
		t.Errorf("warwickshire returned %d, want 14", len(warks))
	}
	for _, k := range []string{"search_cinemas_leamington", "diagnostic_invalid_collection", "route_network_build_small_bbox"} {
		if _, ok := warks[k]; !ok {
			t.Errorf("warwickshire set lacks %s", k)
		}
	}
	if _, ok := warks["usrn_breakdown"]; ok {
		t.Error("warwickshire set contains a usrn template")
	}

	for k := range c.Filter("routing") {
		if !strings.Contains(k, "routing") {
			t.Errorf("routing filter returned %s", k)
		}
	}
	if _, ok := c.Filter("routing")["routing_restriction_audit"]; !ok {
		t.Error("routing filter misses routing_restriction_audit")
	}

	if got := c.Filter("no-such-category"); len(got) != 0 {
		t.Errorf("unknown category returned %v", got)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	c := Default()
	text, err := c.Render("usrn_breakdown", map[string]string{"usrn": "12345678"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "USRN 12345678") || strings.Contains(text, "{usrn}") {
		t.Errorf("render = %q", text)
	}
	if !strings.Contains(text, "{roadlink_id}") {
		t.Error("placeholder without a value should be kept")
	}
	if _, err := c.Render("missing", nil); err == nil {
		t.Error("unknown template rendered")
	}
}

func TestPrompts(t *testing.T) {
	t.Parallel()
	c := Default()
	byName := make(map[string]Prompt)
	for _, p := range Prompts() {
		byName[p.Name] = p
	}
	if len(byName) != 3 {
		t.Fatalf("prompts = %d", len(byName))
	}

	text, err := byName["usrn_breakdown_analysis"].Render(c, map[string]string{"usrn": "42"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(text, "As an expert in OS NGD API workflows") || !strings.Contains(text, "USRN 42") {
		t.Errorf("usrn prompt = %q", text)
	}

	text, err = byName["collection_query_guidance"].Render(c, map[string]string{"collection_id": "lus-fts-site-1"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "'lus-fts-site-1' collection for features") {
		t.Errorf("default query_type not applied: %q", text)
	}

	if _, err := byName["workflow_planning"].Render(c, nil); err == nil {
		t.Error("missing required argument accepted")
	}
}

func TestLoadFS_Errors(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"no category": "templates:\n  - key: a\n    text: b\n",
		"empty text":  "category: x\ntemplates:\n  - key: a\n    text: ''\n",
		"bad yaml":    "category: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fsys := fstest.MapFS{"t/x.yaml": {Data: []byte(doc)}}
			if _, err := loadFS(fsys, "t"); err == nil {
				t.Error("expected error")
			}
		})
	}

	dup := fstest.MapFS{
		"t/a.yaml": {Data: []byte("category: a\ntemplates:\n  - key: k\n    text: one\n")},
		"t/b.yaml": {Data: []byte("category: b\ntemplates:\n  - key: k\n    text: two\n")},
	}
	if _, err := loadFS(dup, "t"); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("duplicate key err = %v", err)
	}
}
