// Package input loads the operator-maintained campaign table and creative
// source. Both are CSV exports; the table carries one row per campaign set
// with yes/no columns per device variant, the creative source one row per
// already-uploaded platform creative.
package input

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"adlaunch/internal/model"
)

// Header names accepted in the campaign table, lowercased. The table is
// maintained by hand in a spreadsheet, so matching is forgiving about case
// and surrounding whitespace.
const (
	colName     = "campaign set"
	colDesktop  = "desktop"
	colIOS      = "ios"
	colAndroid  = "android"
	colMobile   = "all mobile"
	colKeywords = "keywords"
	colGeo      = "geo"
	colCPA      = "target cpa"
	colBudget   = "per source test budget"
	colMaxBid   = "max bid"
	colFreqCap  = "frequency cap"
	colDaily    = "max daily budget"
	colGender   = "gender"
	colEnabled  = "enabled"
)

// ReadSets parses the campaign table at path.
func ReadSets(path string) ([]model.CampaignSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening campaign table: %w", err)
	}
	defer f.Close()

	sets, err := ParseSets(f)
	if err != nil {
		return nil, fmt.Errorf("parsing campaign table %s: %w", path, err)
	}
	return sets, nil
}

// ParseSets parses campaign-table CSV from r.
func ParseSets(r io.Reader) ([]model.CampaignSet, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols[colName]; !ok {
		return nil, fmt.Errorf("missing required column %q", colName)
	}

	var sets []model.CampaignSet
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		set, err := parseRow(cols, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		sets = append(sets, set)
	}
	return sets, nil
}

func parseRow(cols map[string]int, row []string) (model.CampaignSet, error) {
	get := func(col string) string {
		i, ok := cols[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	set := model.CampaignSet{
		Name:     get(colName),
		Settings: model.DefaultSettings(),
		Enabled:  true,
	}

	for col, variant := range map[string]model.Variant{
		colDesktop: model.VariantDesktop,
		colIOS:     model.VariantIOS,
		colAndroid: model.VariantAndroid,
		colMobile:  model.VariantAllMobile,
	} {
		if truthy(get(col)) {
			set.Variants = append(set.Variants, variant)
		}
	}
	// Map iteration order is random; the task list must not be.
	sortVariants(set.Variants)

	set.Keywords = parseKeywords(get(colKeywords))
	if geo := get(colGeo); geo != "" {
		for _, g := range strings.FieldsFunc(geo, func(r rune) bool { return r == ';' || r == ',' }) {
			if g = strings.TrimSpace(g); g != "" {
				set.Geo = append(set.Geo, strings.ToUpper(g))
			}
		}
	}

	var err error
	if set.Settings.TargetCPA, err = parseFloat(get(colCPA), set.Settings.TargetCPA); err != nil {
		return set, fmt.Errorf("target cpa: %w", err)
	}
	if set.Settings.PerSourceBudget, err = parseFloat(get(colBudget), set.Settings.PerSourceBudget); err != nil {
		return set, fmt.Errorf("per source test budget: %w", err)
	}
	if set.Settings.MaxBid, err = parseFloat(get(colMaxBid), set.Settings.MaxBid); err != nil {
		return set, fmt.Errorf("max bid: %w", err)
	}
	if set.Settings.MaxDailyBudget, err = parseFloat(get(colDaily), set.Settings.MaxDailyBudget); err != nil {
		return set, fmt.Errorf("max daily budget: %w", err)
	}
	if freq := get(colFreqCap); freq != "" {
		n, err := strconv.Atoi(freq)
		if err != nil {
			return set, fmt.Errorf("frequency cap: %w", err)
		}
		set.Settings.FrequencyCap = n
	}
	if gender := get(colGender); gender != "" {
		set.Settings.Gender = strings.ToLower(gender)
	}
	if enabled := get(colEnabled); enabled != "" {
		set.Enabled = truthy(enabled)
	}

	return set, nil
}

// parseKeywords splits "milfs; [mature women]" into keywords; square
// brackets mark exact match, everything else is broad.
func parseKeywords(s string) []model.Keyword {
	if s == "" {
		return nil
	}
	var keywords []model.Keyword
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kw := model.Keyword{Name: part, MatchType: model.MatchBroad}
		if strings.HasPrefix(part, "[") && strings.HasSuffix(part, "]") {
			kw.Name = strings.TrimSpace(part[1 : len(part)-1])
			kw.MatchType = model.MatchExact
		}
		keywords = append(keywords, kw)
	}
	return keywords
}

// ReadCreatives parses the creative-source CSV: columns id, title, url with
// a header row. Only id is required.
func ReadCreatives(path string) ([]model.Creative, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening creative source: %w", err)
	}
	defer f.Close()

	creatives, err := ParseCreatives(f)
	if err != nil {
		return nil, fmt.Errorf("parsing creative source %s: %w", path, err)
	}
	return creatives, nil
}

// ParseCreatives parses creative-source CSV from r.
func ParseCreatives(r io.Reader) ([]model.Creative, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idCol, ok := cols["id"]
	if !ok {
		return nil, fmt.Errorf("missing required column %q", "id")
	}

	var creatives []model.Creative
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		if idCol >= len(row) || strings.TrimSpace(row[idCol]) == "" {
			return nil, fmt.Errorf("row %d: empty creative id", line)
		}
		c := model.Creative{ID: strings.TrimSpace(row[idCol])}
		if i, ok := cols["title"]; ok && i < len(row) {
			c.Title = strings.TrimSpace(row[i])
		}
		if i, ok := cols["url"]; ok && i < len(row) {
			c.URL = strings.TrimSpace(row[i])
		}
		creatives = append(creatives, c)
	}
	return creatives, nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "x", "1":
		return true
	}
	return false
}

func parseFloat(s string, fallback float64) (float64, error) {
	if s == "" {
		return fallback, nil
	}
	s = strings.TrimPrefix(s, "$")
	return strconv.ParseFloat(s, 64)
}

// sortVariants orders desktop, ios, android, all_mobile regardless of the
// random map walk that collected them.
func sortVariants(vs []model.Variant) {
	rank := map[model.Variant]int{
		model.VariantDesktop:   0,
		model.VariantIOS:       1,
		model.VariantAndroid:   2,
		model.VariantAllMobile: 3,
	}
	for i := 1; i < len(vs); i++ {
		for j := i; j > 0 && rank[vs[j]] < rank[vs[j-1]]; j-- {
			vs[j], vs[j-1] = vs[j-1], vs[j]
		}
	}
}
