package collectors

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

var commonPasswords = []string{
	"123456", "password", "123456789", "12345678", "12345",
	"qwerty", "abc123", "football", "monkey", "letmein",
	"111111", "1234567", "dragon", "baseball", "sunshine",
	"iloveyou", "trustno1", "princess", "admin", "welcome",
	"password1", "qwerty123", "Password1", "P@ssw0rd",
}

var variantSuffixes = []string{"1", "2023", "2024", "!", "@", "#", "$", "%"}

// CredentialStage derives likely passwords from the target itself. It makes
// no network calls and never tests a guess against a live service.
type CredentialStage struct{}

func NewCredentialStage() *CredentialStage { return &CredentialStage{} }

func (s *CredentialStage) Name() string { return "credential" }

func (s *CredentialStage) CacheKey(t models.Target) storage.Key {
	return cacheKey("phone_cache", storage.SanitizeKeyPart(t.Raw)+"_cracked.json")
}

func (s *CredentialStage) Collect(ctx context.Context, t models.Target, level models.AggressionLevel, rc *RunContext) []models.Finding {
	log := rc.stageLog(s.Name(), t)
	handle := compactHandle(t.Handle())
	if handle == "" {
		return nil
	}

	var findings []models.Finding
	for _, pwd := range candidatePasswords(t, handle) {
		reuse := 0.7
		if strings.HasPrefix(strings.ToLower(pwd), handle) {
			reuse = 0.9
		}
		findings = append(findings,
			models.NewFinding("Simulated Crack Engine", models.SeverityCritical, models.SimulatedCrack{
				Password:      pwd,
				HashType:      "MD5",
				HashValue:     utils.MD5Hex(pwd),
				ReuseScore:    reuse,
				MatchedBreach: "N/A - simulation only",
			}),
			models.NewFinding("Simulated Crack Engine", models.SeverityCritical, models.SimulatedCrack{
				Password:      pwd,
				HashType:      "SHA1",
				HashValue:     utils.SHA1Hex(pwd),
				ReuseScore:    reuse,
				MatchedBreach: "N/A - simulation only",
			}))
	}

	if t.IsEmail() {
		for _, guess := range emailVariants(handle) {
			findings = append(findings, models.NewFinding("Password Variation Guess", models.SeverityHigh, models.CredentialVariant{
				Guess: guess,
				Note:  "Common pattern: username + year/symbol",
			}))
		}
	}
	log.Infof("derived %d credential patterns", len(findings))
	return findings
}

// compactHandle lowercases the handle and drops everything but letters and
// digits, so jane.smith becomes janesmith.
func compactHandle(handle string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(handle) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func candidatePasswords(t models.Target, handle string) []string {
	list := append([]string{}, commonPasswords...)
	list = append(list, handle+"123", handle+"2024", handle+"!")
	if t.IsEmail() {
		if label := domainLabel(t.Domain()); label != "" {
			list = append(list, label+"2024", label+"!")
		}
	}
	return utils.RemoveDuplicates(list)
}

func emailVariants(handle string) []string {
	title := cases.Title(language.English)
	var out []string
	for _, suffix := range variantSuffixes[:3] {
		out = append(out, handle+suffix)
	}
	out = append(out, strings.ToUpper(handle), title.String(handle))
	for _, suffix := range variantSuffixes[3:] {
		out = append(out, handle+suffix)
	}
	return out
}

// domainLabel is the first label of a domain: company for company.com.
func domainLabel(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if i := strings.Index(domain, "."); i > 0 {
		return domain[:i]
	}
	return domain
}
