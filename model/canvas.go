package model

import (
	"fmt"

	"github.com/world-in-progress/canopy/component"
	"github.com/world-in-progress/canopy/node/nodepath"
	"github.com/world-in-progress/canopy/node/nodeschema"
)

// Canvas returns the built-in descriptors of the Canvas LMS resource tree.
// Every tree starts at a course; ancestors[0] is always the course id.
func Canvas() []nodeschema.Descriptor {
	return []nodeschema.Descriptor{
		{
			Name:    "course",
			Path:    nodepath.Detached("courses"),
			PostKey: "course",
			Title:   "name",
			URLFunc: func(ids []string) string { return "/courses/" + ids[0] },
			Children: []nodeschema.ChildDescriptor{
				{Name: "assignments", Type: "assignment"},
				{Name: "discussions", Type: "discussion"},
				{Name: "files", Type: "file"},
				{Name: "folders", Type: "folder"},
				{Name: "modules", Type: "module"},
				{Name: "pages", Type: "page"},
				{Name: "quizzes", Type: "quiz"},
				{Name: "groupCategories", Type: "groupCategory"},
				{Name: "groups", Type: "group"},
			},
		},
		{
			Name:     "assignment",
			Path:     nodepath.Static("assignments"),
			PostKey:  "assignment",
			Title:    "name",
			HTML:     "description",
			URLField: "html_url",
			Children: []nodeschema.ChildDescriptor{
				{Name: "overrides", Type: "override"},
				{Name: "submissions", Type: "submission"},
			},
		},
		{
			Name:    "override",
			Path:    under("assignments/%s/overrides"),
			PostKey: "assignment_override",
			Title:   "title",
		},
		{
			Name:     "submission",
			Path:     under("assignments/%s/submissions"),
			PostKey:  "submission",
			IDField:  "user_id",
			HTML:     "body",
			URLField: "preview_url",
			Disabled: map[nodeschema.Operation]string{
				nodeschema.OpDelete: "submissions cannot be deleted",
			},
		},
		{
			Name:     "discussion",
			Path:     nodepath.Static("discussion_topics"),
			Title:    "title",
			HTML:     "message",
			URLField: "html_url",
			Children: []nodeschema.ChildDescriptor{{Name: "entries", Type: "entry"}},
		},
		{
			Name: "entry",
			Path: under("discussion_topics/%s/entries"),
			HTML: "message",
			Children: []nodeschema.ChildDescriptor{{
				Name:     "replies",
				Type:     "reply",
				Embedded: recentReplies,
			}},
		},
		{
			Name: "reply",
			Path: nodepath.Dynamic(func(ancestors []string, _ bool) nodepath.Spec {
				return nodepath.Static(fmt.Sprintf("discussion_topics/%s/entries/%s/replies", at(ancestors, 1), at(ancestors, 2)))
			}),
			HTML: "message",
			Disabled: map[nodeschema.Operation]string{
				nodeschema.OpUpdate: "replies cannot be updated",
				nodeschema.OpDelete: "replies cannot be deleted",
			},
		},
		{
			Name:         "file",
			Path:         nodepath.Flags("files", false, true),
			Title:        "display_name",
			TitleMirrors: []string{"name"},
			URLFunc: func(ids []string) string {
				return fmt.Sprintf("/courses/%s/files/?preview=%s", ids[0], ids[len(ids)-1])
			},
			Disabled: map[nodeschema.Operation]string{
				nodeschema.OpCreate: "files are uploaded, not created",
			},
		},
		{
			Name:     "folder",
			Path:     nodepath.Flags("folders", false, true),
			Title:    "name",
			URLField: "folders_url",
		},
		{
			Name:    "module",
			Path:    nodepath.Static("modules"),
			PostKey: "module",
			Title:   "name",
			URLFunc: func(ids []string) string {
				return fmt.Sprintf("/courses/%s/modules#context_module_%s", ids[0], ids[len(ids)-1])
			},
			Children: []nodeschema.ChildDescriptor{{Name: "moduleItems", Type: "moduleItem"}},
		},
		{
			Name:     "moduleItem",
			Path:     under("modules/%s/items"),
			PostKey:  "module_item",
			Title:    "title",
			URLField: "html_url",
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
			Name:     "quiz",
			Path:     nodepath.Static("quizzes"),
			PostKey:  "quiz",
			Title:    "title",
			HTML:     "description",
			URLField: "html_url",
			Children: []nodeschema.ChildDescriptor{
				{Name: "questions", Type: "question"},
				{Name: "submissions", Type: "quizSubmission"},
			},
		},
		{
			Name:    "question",
			Path:    under("quizzes/%s/questions"),
			PostKey: "question",
			Title:   "question_name",
			HTML:    "question_text",
			URLFunc: func(ids []string) string {
				return fmt.Sprintf("/courses/%s/quizzes/%s/edit#question_%s", ids[0], at(ids, 1), ids[len(ids)-1])
			},
		},
		{
			Name: "quizSubmission",
			Path: under("quizzes/%s/submissions"),
			Actions: []component.Action{{
				Name:   "complete",
				Method: component.POST,
				Suffix: "complete",
				Params: []component.Param{
					{Name: "attempt", Type: "int", Required: true, FromEntity: true},
					{Name: "validation_token", Type: "string", Required: true, FromEntity: true},
					{Name: "access_code", Type: "string", FromEntity: true},
				},
			}},
		},
		{
			Name:     "groupCategory",
			Path:     nodepath.Flags("group_categories", false, true),
			Title:    "name",
			URLFunc:  func(ids []string) string { return fmt.Sprintf("/courses/%s/groups#tab-%s", ids[0], ids[len(ids)-1]) },
			Children: []nodeschema.ChildDescriptor{{Name: "groups", Type: "group"}},
		},
		{
			Name: "group",
			// listed under a course or a category, addressed globally
			Path: nodepath.Dynamic(func(ancestors []string, individual bool) nodepath.Spec {
				if individual {
					return nodepath.Detached("groups")
				}
				if category := at(ancestors, 1); category != "" {
					return nodepath.Detached("group_categories/" + category + "/groups")
				}
				return nodepath.Static("groups")
			}),
			Title:    "name",
			HTML:     "description",
			URLFunc:  func(ids []string) string { return "/groups/" + ids[len(ids)-1] },
			Children: []nodeschema.ChildDescriptor{{Name: "memberships", Type: "membership"}},
		},
		{
			Name: "membership",
			Path: nodepath.Dynamic(func(ancestors []string, _ bool) nodepath.Spec {
				return nodepath.Detached("groups/" + at(ancestors, len(ancestors)-1) + "/memberships")
			}),
		},
	}
}

// NewCanvasRegistry registers the built-in catalogue plus extra descriptors
// and validates the result.
func NewCanvasRegistry(extra ...nodeschema.Descriptor) (*nodeschema.Registry, error) {
	registry := nodeschema.NewRegistry()
	if err := registry.Register(Canvas()...); err != nil {
		return nil, err
	}
	if err := registry.Register(extra...); err != nil {
		return nil, err
	}
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}

// under nests a kind below its direct parent, ancestors[1].
func under(format string) nodepath.Spec {
	return nodepath.Dynamic(func(ancestors []string, _ bool) nodepath.Spec {
		return nodepath.Static(fmt.Sprintf(format, at(ancestors, 1)))
	})
}

func at(ids []string, i int) string {
	if i < 0 || i >= len(ids) {
		return ""
	}
	return ids[i]
}

// recentReplies seeds an entry's replies from the listing when Canvas says
// the preview already holds all of them.
func recentReplies(entry map[string]any) ([]map[string]any, bool) {
	more, ok := entry["has_more_replies"].(bool)
	if !ok || more {
		return nil, false
	}
	raw, _ := entry["recent_replies"].([]any)
	records := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if record, ok := item.(map[string]any); ok {
			records = append(records, record)
		}
	}
	return records, true
}
