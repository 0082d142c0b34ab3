package variables

import (
	"github.com/rendis/stepcheck/internal/expressions"
	"github.com/rendis/stepcheck/pkg/schema"
)

// subscriberSchema is the fixed subscriber shape. data stays open; keys used
// by templates are listed so previews can show them.
func subscriberSchema(dataUsage []expressions.Path) *schema.Node {
	data := schema.Open()
	for _, p := range dataUsage {
		place(data, p)
	}

	return schema.Object(map[string]*schema.Node{
		"subscriberId": schema.String(),
		"firstName":    schema.String(),
		"lastName":     schema.String(),
		"email":        schema.StringFormat("email"),
		"phone":        schema.String(),
		"avatar":       schema.StringFormat("uri"),
		"locale":       schema.String(),
		"timezone":     schema.String(),
		"isOnline":     schema.Boolean(),
		"lastOnlineAt": schema.StringFormat("date-time"),
		"data":         data,
	}, "subscriberId")
}
