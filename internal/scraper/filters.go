package scraper

import (
	"regexp"
	"strconv"
	"strings"

	"tenderwatch/internal/tender"
)

// Keyword lists mirror the categories the operators actually bid on.
// Matching is plain substring over lowercased text; the site vocabulary
// is stable enough that stemming has not been worth it.

var constructionKeywordsNO = []string{
	"bygg", "bygge", "byggeri", "bygning", "konstruksjon",
	"anlegg", "rehabilitering", "renovering", "vedlikehold",
	"maling", "maler", "fasade", "tak", "gulv", "bad",
	"rørlegger", "elektriker", "vvs", "ventilasjon",
	"betong", "mur", "tømrer", "snekker", "graving",
	"riving", "demontering", "montering", "installasjon",
	"utomhus", "uteområde", "asfaltering", "belegg",
	"sanitær", "varme", "isolasjon", "membran",
	"stillas", "vinduer", "dører", "kjøkken",
	"barnehage", "skole", "ombygging", "omsorgsbolig",
	"entreprise", "prosjekt", "lekeplass",
}

var constructionKeywordsEN = []string{
	"construction", "building", "renovation", "repair", "maintenance",
	"painting", "facade", "roof", "floor", "plumbing", "electrical",
	"hvac", "ventilation", "concrete", "masonry", "carpentry",
	"demolition", "installation", "asphalt", "insulation",
	"windows", "doors", "kitchen", "school", "kindergarten",
	"pipeline", "bridge", "road", "tunnel", "housing",
}

// complexityKeywords exclude tenders that require certifications or
// framework-agreement capacity a small contractor will not have.
var complexityKeywords = []string{
	"rammeavtale", "totalentreprise", "iso 9001", "iso 14001",
	"sentral godkjenning", "ansvarsrett", "prekvalifisering",
}

var nonDigitRe = regexp.MustCompile(`[^\d]`)

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// IsConstructionRelated matches Norwegian and English construction
// vocabulary over title, description, category, buyer and location.
func IsConstructionRelated(t tender.Tender) bool {
	text := strings.ToLower(strings.Join([]string{t.Title, t.Description, t.Category, t.Buyer, t.Location}, " "))
	return containsAny(text, constructionKeywordsNO) || containsAny(text, constructionKeywordsEN)
}

// IsBeginnerFriendly excludes listings carrying complexity keywords.
func IsBeginnerFriendly(t tender.Tender) bool {
	text := strings.ToLower(t.Title + " " + t.Description)
	return !containsAny(text, complexityKeywords)
}

// UnderBudget reports whether the listed amount is at most maxNOK.
// A missing or unparsable amount passes the filter.
func UnderBudget(t tender.Tender, maxNOK int64) bool {
	if strings.TrimSpace(t.Amount) == "" {
		return true
	}
	numStr := nonDigitRe.ReplaceAllString(t.Amount, "")
	n, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return true
	}
	return n <= maxNOK
}
