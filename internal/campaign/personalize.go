package campaign

import (
	"strconv"
	"strings"

	"crmflow/pkg/models"
)

// Personalize fills the {name}, {email} and {totalSpend} placeholders of
// template from c. Missing names read "Customer".
func Personalize(template string, c models.Customer) string {
	name := c.Name
	if name == "" {
		name = "Customer"
	}
	return strings.NewReplacer(
		"{name}", name,
		"{email}", c.Email,
		"{totalSpend}", strconv.FormatFloat(c.TotalSpend, 'f', 2, 64),
	).Replace(template)
}
