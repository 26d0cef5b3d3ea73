package payload

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/shohag/formhook/internal/faults"
	"github.com/shohag/formhook/internal/models"
)

type mapSource map[string]*models.Submission

func (m mapSource) GetSubmission(_ context.Context, formUID, submissionID, _ string) (*models.Submission, error) {
	sub, ok := m[submissionID]
	if !ok || sub.FormUID != formUID {
		return nil, nil
	}
	return sub, nil
}

func testForm() *models.Form {
	return &models.Form{
		UID:       "aForm",
		OwnerID:   "owner",
		VersionID: "v1",
		Fields: []string{
			"q1",
			"group1/q2",
			"group1/q3",
			"group2/subgroup1/q4",
			"group2/subgroup1/q5",
		},
	}
}

func testSource() mapSource {
	return mapSource{
		"sub_1": {
			ID:        "sub_1",
			FormUID:   "aForm",
			VersionID: "v7",
			Fields: []models.FieldValue{
				{Path: "group1/q3", Value: "three"},
				{Path: "q1", Value: "one"},
				{Path: "group2/subgroup1/q4", Value: "four & <more>"},
				{Path: "group1/q2", Value: "two"},
				{Path: "extra", Value: "x"},
			},
		},
	}
}

func render(t *testing.T, hook *models.Hook) []byte {
	t.Helper()
	out, err := Build(context.Background(), testSource(), hook, testForm(), "sub_1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return out
}

func TestServiceForRejectsUnknownFormat(t *testing.T) {
	if _, err := ServiceFor("csv"); !faults.Is(err, faults.UnsupportedFormat) {
		t.Fatalf("expected %s, got %v", faults.UnsupportedFormat, err)
	}
}

func TestExtractMissingSubmission(t *testing.T) {
	for _, svc := range []Service{JSONService{}, XMLService{}} {
		_, err := svc.Extract(context.Background(), testSource(), testForm(), "nope")
		if !faults.Is(err, faults.SubmissionNotFound) {
			t.Fatalf("%s: expected %s, got %v", svc.Format(), faults.SubmissionNotFound, err)
		}
	}
}

func TestJSONExtractIsHierarchical(t *testing.T) {
	c, err := JSONService{}.Extract(context.Background(), testSource(), testForm(), "sub_1")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if c.Root == nil || c.Pairs != nil {
		t.Fatalf("expected tree content")
	}
	var names []string
	for _, n := range c.Root.Children {
		names = append(names, n.Name)
	}
	want := "__version__,q1,group1,group2,extra,_id"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("top level order = %s, want %s", got, want)
	}
	if n := c.Root.Find("group2/subgroup1/q4"); n == nil || n.Value != "four & <more>" {
		t.Fatalf("nested leaf not found: %+v", n)
	}
}

func TestXMLExtractIsFlat(t *testing.T) {
	c, err := XMLService{}.Extract(context.Background(), testSource(), testForm(), "sub_1")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if c.Root != nil {
		t.Fatalf("expected flat content")
	}
	var paths []string
	for _, p := range c.Pairs {
		paths = append(paths, p.Path)
	}
	want := "__version__,q1,group1/q2,group1/q3,group2/subgroup1/q4,extra,_id"
	if got := strings.Join(paths, ","); got != want {
		t.Fatalf("pairs = %s, want %s", got, want)
	}
}

func TestJSONRenderWithoutSubsetKeepsEveryLeafOnce(t *testing.T) {
	out := render(t, &models.Hook{Format: models.FormatJSON})
	want := `{"__version__":"v7","q1":"one","group1":{"q2":"two","q3":"three"},` +
		`"group2":{"subgroup1":{"q4":"four & <more>"}},"extra":"x","_id":"sub_1"}`
	if string(out) != want {
		t.Fatalf("unexpected body:\n got %s\nwant %s", out, want)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("body is not valid json: %v", err)
	}
	if leaves := countJSONLeaves(decoded); leaves != 7 {
		t.Fatalf("expected 7 leaves, got %d", leaves)
	}
}

func countJSONLeaves(v any) int {
	total := 0
	switch c := v.(type) {
	case map[string]any:
		for _, e := range c {
			total += countJSONLeaves(e)
		}
	case []any:
		for _, e := range c {
			total += countJSONLeaves(e)
		}
	default:
		return 1
	}
	return total
}

func TestJSONRenderSubset(t *testing.T) {
	out := render(t, &models.Hook{
		Format:       models.FormatJSON,
		SubsetFields: []string{"group1/q3", "group2", "missing/field"},
	})
	want := `{"__version__":"v7","group1":{"q3":"three"},"group2":{"subgroup1":{"q4":"four & <more>"}},"_id":"sub_1"}`
	if string(out) != want {
		t.Fatalf("unexpected body:\n got %s\nwant %s", out, want)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	for _, format := range []models.ExportFormat{models.FormatJSON, models.FormatXML} {
		hook := &models.Hook{Format: format, SubsetFields: []string{"q1", "group1"}}
		first := render(t, hook)
		for i := 0; i < 20; i++ {
			if again := render(t, hook); !bytes.Equal(first, again) {
				t.Fatalf("%s render differs between runs:\n%s\n%s", format, first, again)
			}
		}
	}
}

func TestXMLRenderNestsGroups(t *testing.T) {
	out := render(t, &models.Hook{Format: models.FormatXML, SubsetFields: []string{"q1", "group2"}})
	want := `<aForm><__version__>v7</__version__><q1>one</q1>` +
		`<group2><subgroup1><q4>four &amp; &lt;more&gt;</q4></subgroup1></group2><_id>sub_1</_id></aForm>`
	if string(out) != want {
		t.Fatalf("unexpected body:\n got %s\nwant %s", out, want)
	}
}

func TestJSONTemplate(t *testing.T) {
	out := render(t, &models.Hook{
		Format:          models.FormatJSON,
		SubsetFields:    []string{"q1"},
		PayloadTemplate: `{"data": %SUBMISSION%, "first": %q1%, "nested": %group1%, "missing": %nope/nothing%}`,
	})
	want := `{"data": {"__version__":"v7","q1":"one","_id":"sub_1"}, "first": "one", "nested": "", "missing": ""}`
	if string(out) != want {
		t.Fatalf("unexpected body:\n got %s\nwant %s", out, want)
	}
}

func TestTemplateUnresolvedPlaceholderDoesNotFail(t *testing.T) {
	for _, format := range []models.ExportFormat{models.FormatJSON, models.FormatXML} {
		out, err := Build(context.Background(), testSource(), &models.Hook{
			Format:          format,
			PayloadTemplate: `before %does_not_exist% after`,
		}, testForm(), "sub_1")
		if err != nil {
			t.Fatalf("%s: render failed: %v", format, err)
		}
		if !strings.HasPrefix(string(out), "before ") || !strings.HasSuffix(string(out), " after") {
			t.Fatalf("%s: unexpected output %q", format, out)
		}
	}
}

func TestXMLTemplate(t *testing.T) {
	out := render(t, &models.Hook{
		Format:          models.FormatXML,
		SubsetFields:    []string{"group1"},
		PayloadTemplate: `<envelope form="aForm"><body>%SUBMISSION%</body><q4>%group2/subgroup1/q4%</q4></envelope>`,
	})
	want := `<envelope form="aForm"><body><__version__>v7</__version__><group1><q2>two</q2><q3>three</q3></group1>` +
		`<_id>sub_1</_id></body><q4></q4></envelope>`
	if string(out) != want {
		t.Fatalf("unexpected body:\n got %s\nwant %s", out, want)
	}
}

func repeatForm() *models.Form {
	return &models.Form{
		UID:       "household",
		OwnerID:   "owner",
		VersionID: "v1",
		Fields:    []string{"q1", "member/name", "member/age"},
	}
}

func repeatSource() mapSource {
	return mapSource{
		"r1": {
			ID:      "r1",
			FormUID: "household",
			Fields: []models.FieldValue{
				{Path: "member[2]/name", Value: "b"},
				{Path: "member[1]/name", Value: "a"},
				{Path: "q1", Value: "x"},
				{Path: "member[1]/age", Value: "1"},
				{Path: "member[2]/age", Value: "2"},
			},
		},
		"r2": {
			ID:      "r2",
			FormUID: "household",
			Fields: []models.FieldValue{
				{Path: "member/name", Value: "a"},
				{Path: "member/name", Value: "b"},
			},
		},
	}
}

func renderRepeat(t *testing.T, hook *models.Hook, submissionID string) []byte {
	t.Helper()
	out, err := Build(context.Background(), repeatSource(), hook, repeatForm(), submissionID)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return out
}

func TestJSONRepeatGroupIsArrayOfInstances(t *testing.T) {
	out := renderRepeat(t, &models.Hook{Format: models.FormatJSON}, "r1")
	want := `{"__version__":"v1","q1":"x","member":[{"name":"a","age":"1"},{"name":"b","age":"2"}],"_id":"r1"}`
	if string(out) != want {
		t.Fatalf("unexpected body:\n got %s\nwant %s", out, want)
	}

	var decoded struct {
		Member []map[string]string `json:"member"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("body is not valid json: %v", err)
	}
	if len(decoded.Member) != 2 || decoded.Member[0]["name"] != "a" || decoded.Member[1]["name"] != "b" {
		t.Fatalf("instances lost: %+v", decoded.Member)
	}
}

func TestRepeatedAnswerKeepsEveryValue(t *testing.T) {
	out := renderRepeat(t, &models.Hook{Format: models.FormatJSON}, "r2")
	want := `{"__version__":"v1","member":{"name":["a","b"]},"_id":"r2"}`
	if string(out) != want {
		t.Fatalf("unexpected body:\n got %s\nwant %s", out, want)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("body is not valid json: %v", err)
	}
	if leaves := countJSONLeaves(decoded); leaves != 4 {
		t.Fatalf("expected 4 leaves, got %d", leaves)
	}
}

func TestRepeatTreeLeaves(t *testing.T) {
	content, err := JSONService{}.Extract(context.Background(), repeatSource(), repeatForm(), "r1")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	root := content.Tree()
	if n := root.Leaves(); n != 7 {
		t.Fatalf("expected 7 leaves, got %d", n)
	}
	if n := root.Find("member").Leaves(); n != 4 {
		t.Fatalf("expected 4 leaves in the repeat, got %d", n)
	}
	if n := root.Find("member[2]/age"); n == nil || n.Value != "2" {
		t.Fatalf("unexpected instance lookup %+v", n)
	}
	if root.Find("member[3]") != nil || root.Find("q1[1]") != nil {
		t.Fatal("lookup of a missing instance should fail")
	}
}

func TestXMLRepeatGroupIsRepeatedElements(t *testing.T) {
	out := renderRepeat(t, &models.Hook{Format: models.FormatXML}, "r1")
	want := `<household><__version__>v1</__version__><q1>x</q1>` +
		`<member><name>a</name><age>1</age></member><member><name>b</name><age>2</age></member>` +
		`<_id>r1</_id></household>`
	if string(out) != want {
		t.Fatalf("unexpected body:\n got %s\nwant %s", out, want)
	}
}

func TestRepeatSubset(t *testing.T) {
	hook := &models.Hook{SubsetFields: []string{"member/age"}}

	hook.Format = models.FormatJSON
	out := renderRepeat(t, hook, "r1")
	want := `{"__version__":"v1","member":[{"age":"1"},{"age":"2"}],"_id":"r1"}`
	if string(out) != want {
		t.Fatalf("unexpected json:\n got %s\nwant %s", out, want)
	}

	hook.Format = models.FormatXML
	out = renderRepeat(t, hook, "r1")
	want = `<household><__version__>v1</__version__><member><age>1</age></member><member><age>2</age></member><_id>r1</_id></household>`
	if string(out) != want {
		t.Fatalf("unexpected xml:\n got %s\nwant %s", out, want)
	}
}

func TestRepeatTemplatePlaceholders(t *testing.T) {
	out := renderRepeat(t, &models.Hook{
		Format:          models.FormatJSON,
		PayloadTemplate: `{"second":%member[2]/name%,"all":%member%}`,
	}, "r1")
	want := `{"second":"b","all":[{"name":"a","age":"1"},{"name":"b","age":"2"}]}`
	if string(out) != want {
		t.Fatalf("unexpected body:\n got %s\nwant %s", out, want)
	}
}
