package model

import (
	"fmt"
	"strings"
)

// NameParams carries the fixed parts of the platform naming convention that
// do not vary per set. They come from config.
type NameParams struct {
	Language string // e.g. "EN"
	AdFormat string // e.g. "NATIVE"
	BidType  string // e.g. "CPA"
	Source   string // e.g. "ALL"
	Initials string // operator initials suffix
}

var deviceAbbr = map[Variant]string{
	VariantDesktop:   "DESK",
	VariantIOS:       "iOS",
	VariantAndroid:   "AND",
	VariantAllMobile: "MOB_ALL",
}

var genderAbbr = map[string]string{
	"male":   "M",
	"female": "F",
	"all":    "MF",
}

// CampaignName builds the platform naming-convention name for one variant:
// GEO_LANG_FORMAT_BID_SOURCE_KEY-Keyword_DEVICE_GENDER_INITIALS.
func CampaignName(set *CampaignSet, variant Variant, p NameParams) string {
	geo := strings.Join(set.Geo, "-")
	if geo == "" {
		geo = "US"
	}

	keyword := "Broad"
	if kw := strings.TrimSpace(set.PrimaryKeyword()); kw != "" && !strings.EqualFold(kw, "unknown") {
		keyword = titleCase(kw)
	}

	gender, ok := genderAbbr[strings.ToLower(set.Settings.Gender)]
	if !ok {
		gender = "M"
	}

	device, ok := deviceAbbr[variant]
	if !ok {
		device = strings.ToUpper(string(variant))
	}

	return fmt.Sprintf("%s_%s_%s_%s_%s_KEY-%s_%s_%s_%s",
		geo, p.Language, strings.ToUpper(p.AdFormat), strings.ToUpper(p.BidType),
		p.Source, keyword, device, gender, p.Initials)
}

// titleCase capitalizes each word and strips the spaces: "big tits" -> "BigTits".
func titleCase(s string) string {
	var b strings.Builder
	upperNext := true
	for _, r := range s {
		if r == ' ' {
			upperNext = true
			continue
		}
		if upperNext {
			b.WriteString(strings.ToUpper(string(r)))
			upperNext = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
