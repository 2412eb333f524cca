package node

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/world-in-progress/canopy/component"
	"github.com/world-in-progress/canopy/core/fault"
	"github.com/world-in-progress/canopy/node/nodepath"
	"github.com/world-in-progress/canopy/node/nodeschema"
)

func testDescriptors() []nodeschema.Descriptor {
	return []nodeschema.Descriptor{
		{
			Name:    "course",
			Path:    nodepath.Detached("courses"),
			PostKey: "course",
			Title:   "name",
			URLFunc: func(ids []string) string { return "/courses/" + ids[0] },
			Children: []nodeschema.ChildDescriptor{
				{Name: "pages", Type: "page"},
				{Name: "quizzes", Type: "quiz"},
				{Name: "discussions", Type: "discussion"},
			},
		},
		{
			Name:       "page",
			Path:       nodepath.Static("pages"),
			PostKey:    "wiki_page",
			IDField:    "page_id",
			Title:      "title",
			HTML:       "body",
			URLField:   "html_url",
			ExpandSelf: true,
		},
		{
			Name:    "quiz",
			Path:    nodepath.Static("quizzes"),
			PostKey: "quiz",
			Title:   "title",
			Children: []nodeschema.ChildDescriptor{
				{Name: "questions", Type: "question"},
				{Name: "submissions", Type: "quizSubmission"},
			},
		},
		{
			Name: "question",
			Path: nodepath.Dynamic(func(a []string, _ bool) nodepath.Spec {
				return nodepath.Static("quizzes/" + a[1] + "/questions")
			}),
			PostKey: "question",
			Title:   "question_name",
			URLFunc: func(ids []string) string {
				return fmt.Sprintf("/courses/%s/quizzes/%s/edit#question_%s", ids[0], ids[1], ids[2])
			},
		},
		{
			Name: "quizSubmission",
			Path: nodepath.Dynamic(func(a []string, _ bool) nodepath.Spec {
				return nodepath.Static("quizzes/" + a[1] + "/submissions")
			}),
			Actions: []component.Action{{
				Name:   "complete",
				Method: component.POST,
				Suffix: "complete",
				Params: []component.Param{
					{Name: "attempt", Type: "int", Required: true, FromEntity: true},
					{Name: "validation_token", Type: "string", Required: true, FromEntity: true},
				},
			}},
		},
		{
			Name:     "discussion",
			Path:     nodepath.Static("discussion_topics"),
			Title:    "title",
			Children: []nodeschema.ChildDescriptor{{Name: "entries", Type: "entry"}},
		},
		{
			Name: "entry",
			Path: nodepath.Dynamic(func(a []string, _ bool) nodepath.Spec {
				return nodepath.Static("discussion_topics/" + a[1] + "/entries")
			}),
			HTML: "message",
			Children: []nodeschema.ChildDescriptor{{
				Name: "replies",
				Type: "reply",
				Embedded: func(parent map[string]any) ([]map[string]any, bool) {
					if more, _ := parent["has_more_replies"].(bool); more {
						return nil, false
					}
					raw, _ := parent["recent_replies"].([]any)
					records := make([]map[string]any, 0, len(raw))
					for _, r := range raw {
						if m, ok := r.(map[string]any); ok {
							records = append(records, m)
						}
					}
					return records, true
				},
			}},
		},
		{
			Name: "reply",
			Path: nodepath.Dynamic(func(a []string, _ bool) nodepath.Spec {
				return nodepath.Static(fmt.Sprintf("discussion_topics/%s/entries/%s/replies", a[1], a[2]))
			}),
			HTML: "message",
			Disabled: map[nodeschema.Operation]string{
				nodeschema.OpUpdate: "replies cannot be edited",
				nodeschema.OpDelete: "replies cannot be deleted",
			},
		},
	}
}

func newTestGraph(t *testing.T) (*Graph, *fakeCanvas) {
	t.Helper()
	registry := nodeschema.NewRegistry()
	require.NoError(t, registry.Register(testDescriptors()...))
	fake := newFakeCanvas()
	return NewGraph(fake, registry, WithSiteRoot("https://example.instructure.com")), fake
}

func TestFactoriesAreMemoized(t *testing.T) {
	g, _ := newTestGraph(t)

	ef1, cf1, err := g.Factories("course")
	require.NoError(t, err)
	ef2, cf2, err := g.Factories("course")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%p", ef1), fmt.Sprintf("%p", ef2))
	assert.Equal(t, fmt.Sprintf("%p", cf1), fmt.Sprintf("%p", cf2))

	course := ef1(nil, "1")
	assert.Equal(t, "course", course.Kind())
	assert.Equal(t, Unsynced, course.State())

	quizzes, ok := course.Child("quizzes")
	require.True(t, ok)
	assert.Equal(t, []string{"1"}, quizzes.Ancestors())
	assert.Equal(t, "quiz", quizzes.Kind())
	assert.Len(t, course.Children(), 3)
}

func TestFactoriesRejectBrokenKinds(t *testing.T) {
	registry := nodeschema.NewRegistry()
	require.NoError(t, registry.Register(
		nodeschema.Descriptor{Name: "outer", Path: nodepath.Static("outer"), Children: []nodeschema.ChildDescriptor{{Name: "inner", Type: "inner"}}},
		nodeschema.Descriptor{Name: "inner", Path: nodepath.Static("inner"), Children: []nodeschema.ChildDescriptor{{Name: "deep", Type: "deep"}}},
		nodeschema.Descriptor{Name: "deep"},
	))
	g := NewGraph(newFakeCanvas(), registry)

	_, err := g.NewEntity("outer", []string{"1"}, "2")
	require.Error(t, err)
	assert.True(t, fault.IsConfig(err))

	_, err = g.NewCollection("missing", "1")
	assert.True(t, fault.IsConfig(err))
}
