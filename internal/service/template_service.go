// internal/service/template_service.go
package service

import (
	_ "embed"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

//go:embed templates/standard.html
var standardTemplate string

// maxProducts is how many products one email shows.
const maxProducts = 4

// DefaultTemplateConfig is merged under every new campaign's config.
var DefaultTemplateConfig = model.TemplateConfig{
	"SUBJECT":           "New Products Just Dropped!",
	"CAMPAIGN_TITLE":    "New Collection Available!",
	"COMPANY_NAME":      "R and R Imports",
	"COMPANY_LOGO_URL":  "",
	"MAIN_TITLE":        "New Collection Available!",
	"TITLE_FONT_SIZE":   "28px",
	"TITLE_COLOR":       "#000000",
	"HERO_IMAGE_URL":    "",
	"HERO_LINK":         "#",
	"HERO_ALT_TEXT":     "Featured collection",
	"GREETING_TEXT":     "Hi there,",
	"DESCRIPTION_TEXT":  "Check out our latest collection selected just for you!",
	"PRODUCTS_TITLE":    "Featured Collection",
	"PRODUCTS_SUBTITLE": "",
	"CTA_TEXT":          "Shop Now",
	"CTA_LINK":          "#",
	"CTA_BG_COLOR":      "#7ac4c9",
	"CTA_TEXT_COLOR":    "#000000",
	"FOOTER_TEXT":       "R and R Imports, Inc",
	"COMPANY_ADDRESS":   "5271 Lee Hwy, Troutville, VA 24175-7555 USA",
	"UNSUBSCRIBE_URL":   "#",
}

// slotAliases maps the short names editors use to template slots.
var slotAliases = map[string]string{
	"TITLE":        "MAIN_TITLE",
	"DESCRIPTION":  "DESCRIPTION_TEXT",
	"GREETING":     "GREETING_TEXT",
	"HERO_IMAGE":   "HERO_IMAGE_URL",
	"LOGO_URL":     "COMPANY_LOGO_URL",
	"SUBJECT_LINE": "SUBJECT",
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// NormalizeTemplateConfig upper-cases slot names, resolves aliases and
// trims values. An alias never overrides an explicit slot.
func NormalizeTemplateConfig(cfg model.TemplateConfig) model.TemplateConfig {
	out := model.TemplateConfig{}
	keys := make([]string, 0, len(cfg))
	explicit := map[string]bool{}
	for k := range cfg {
		keys = append(keys, k)
		explicit[strings.ToUpper(strings.TrimSpace(k))] = true
	}
	sort.Strings(keys)

	for _, k := range keys {
		slot := strings.ToUpper(strings.TrimSpace(k))
		if slot == "" {
			continue
		}
		if canonical, ok := slotAliases[slot]; ok {
			if explicit[canonical] {
				continue
			}
			slot = canonical
		}
		out[slot] = strings.TrimSpace(cfg[k])
	}
	return out
}

// Renderer turns a campaign template config plus one recipient into the
// final email. It holds no mutable state.
type Renderer struct {
	base string
}

func NewRenderer() *Renderer {
	return &Renderer{base: standardTemplate}
}

// RenderedEmail is one personalized message ready for the transport.
type RenderedEmail struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
}

// Render resolves every {{SLOT}} of the campaign's base template (or the
// standard one) against cfg and the recipient.
func (r *Renderer) Render(baseTemplate string, cfg model.TemplateConfig, rec *model.Recipient) (*RenderedEmail, error) {
	if rec == nil || strings.TrimSpace(rec.CustomerEmail) == "" {
		return nil, appErrors.NewMissingRequiredField("customerEmail")
	}

	tmpl := baseTemplate
	if strings.TrimSpace(tmpl) == "" {
		tmpl = r.base
	}
	vars := r.Vars(cfg, rec)

	body := placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := strings.ToUpper(placeholderPattern.FindStringSubmatch(m)[1])
		return vars[key]
	})

	return &RenderedEmail{
		To:       strings.TrimSpace(rec.CustomerEmail),
		ToName:   rec.CustomerName,
		Subject:  r.Subject(cfg, rec),
		HTMLBody: body,
	}, nil
}

// Vars computes the substitution table. Config values are trusted editor
// content; anything that came from the recipient list is HTML-escaped.
func (r *Renderer) Vars(cfg model.TemplateConfig, rec *model.Recipient) map[string]string {
	vars := DefaultTemplateConfig.Merge(NormalizeTemplateConfig(cfg))

	name := firstName(rec.CustomerName)
	if name != "" {
		vars["GREETING_TEXT"] = fmt.Sprintf("Hi %s,", html.EscapeString(name))
	}
	if rec.SchoolName != "" {
		vars["PRODUCTS_TITLE"] = fmt.Sprintf("Featured %s Collection", html.EscapeString(rec.SchoolName))
	}
	if rec.SchoolPage != "" {
		page := html.EscapeString(rec.SchoolPage)
		vars["CTA_LINK"] = page
		vars["HERO_LINK"] = page
	}
	if rec.SchoolLogo != "" {
		vars["HERO_IMAGE_URL"] = html.EscapeString(rec.SchoolLogo)
	}
	if vars["CTA_TEXT"] == "" {
		vars["CTA_TEXT"] = DefaultTemplateConfig["CTA_TEXT"]
	}

	vars["CUSTOMER_NAME"] = html.EscapeString(rec.CustomerName)
	vars["CUSTOMER_EMAIL"] = html.EscapeString(rec.CustomerEmail)
	vars["SCHOOL_CODE"] = html.EscapeString(rec.SchoolCode)
	vars["SCHOOL_NAME"] = html.EscapeString(rec.SchoolName)
	vars["PRODUCTS_HTML"] = productsHTML(rec.Products, vars["CTA_LINK"])
	return vars
}

// Subject personalizes the configured subject line with the recipient's
// first name and school.
func (r *Renderer) Subject(cfg model.TemplateConfig, rec *model.Recipient) string {
	base := NormalizeTemplateConfig(cfg)["SUBJECT"]
	if base == "" {
		base = DefaultTemplateConfig["SUBJECT"]
	}
	name := firstName(rec.CustomerName)
	school := strings.TrimSpace(rec.SchoolName)

	switch {
	case name != "" && school != "":
		return fmt.Sprintf("Hi %s, %s Collection Just Dropped!", name, school)
	case name != "":
		return fmt.Sprintf("Hi %s! %s", name, base)
	case school != "":
		return fmt.Sprintf("%s %s", school, base)
	}
	return base
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// productsHTML lays out up to four products: one product gets a wide card,
// more get a two column grid.
func productsHTML(products model.Products, fallbackLink string) string {
	var shown []model.Product
	for _, p := range products {
		if strings.TrimSpace(p.Name) == "" {
			continue
		}
		shown = append(shown, p)
		if len(shown) == maxProducts {
			break
		}
	}
	if len(shown) == 0 {
		return ""
	}

	var b strings.Builder
	if len(shown) == 1 {
		b.WriteString(`<table role="presentation" width="100%" cellspacing="0" cellpadding="0"><tr>`)
		writeProductCell(&b, shown[0], fallbackLink, "100%")
		b.WriteString(`</tr></table>`)
		return b.String()
	}

	b.WriteString(`<table role="presentation" width="100%" cellspacing="0" cellpadding="0">`)
	for i := 0; i < len(shown); i += 2 {
		b.WriteString(`<tr>`)
		writeProductCell(&b, shown[i], fallbackLink, "50%")
		if i+1 < len(shown) {
			writeProductCell(&b, shown[i+1], fallbackLink, "50%")
		} else {
			b.WriteString(`<td width="50%"></td>`)
		}
		b.WriteString(`</tr>`)
	}
	b.WriteString(`</table>`)
	return b.String()
}

func writeProductCell(b *strings.Builder, p model.Product, fallbackLink, width string) {
	link := fallbackLink
	if p.Link != "" {
		link = html.EscapeString(p.Link)
	}
	fmt.Fprintf(b, `<td width="%s" align="center" valign="top" style="padding:8px;">`, width)
	if p.Image != "" {
		fmt.Fprintf(b, `<a href="%s"><img src="%s" alt="%s" style="width:100%%;max-width:260px;border:0;"></a>`,
			link, html.EscapeString(p.Image), html.EscapeString(p.Name))
	}
	fmt.Fprintf(b, `<p style="margin:8px 0 4px 0;font-size:15px;font-weight:bold;color:#000000;">%s</p>`, html.EscapeString(p.Name))
	if p.Price != "" {
		fmt.Fprintf(b, `<p style="margin:0 0 8px 0;font-size:14px;color:#333333;">%s</p>`, html.EscapeString(formatPrice(p.Price)))
	}
	fmt.Fprintf(b, `<a href="%s" style="background-color:#000000;color:#ffffff;padding:8px 16px;text-decoration:none;border-radius:4px;display:inline-block;font-size:13px;">Shop Now</a>`, link)
	b.WriteString(`</td>`)
}

func formatPrice(price string) string {
	price = strings.TrimSpace(price)
	if price == "" || strings.HasPrefix(price, "$") {
		return price
	}
	return "$" + price
}
