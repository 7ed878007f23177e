package collectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bl4ck0w1/idlynx/internal/httpclient"
	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/pkg/models"
)

const (
	defaultNumVerify  = "http://apilayer.net/api"
	defaultTwilio     = "https://lookups.twilio.com/v1"
	defaultRiskSeal   = "https://api.riskseal.com/v1"
	defaultTrestle    = "https://api.trestle.io/v1"
	defaultTruecaller = "https://www.truecaller.com"

	fraudRiskThreshold = 70
)

var phoneKeyStrip = strings.NewReplacer("+", "", "-", "", " ", "", "(", "", ")", "")

// PhoneStage resolves a phone number through validation, carrier, fraud
// and reverse-identity services.
type PhoneStage struct{}

func NewPhoneStage() *PhoneStage { return &PhoneStage{} }

func (s *PhoneStage) Name() string { return "phone" }

func (s *PhoneStage) CacheKey(t models.Target) storage.Key {
	return cacheKey("phone_cache", storage.SanitizeKeyPart(phoneKeyStrip.Replace(t.Raw))+".json")
}

func (s *PhoneStage) Collect(ctx context.Context, t models.Target, level models.AggressionLevel, rc *RunContext) []models.Finding {
	log := rc.stageLog(s.Name(), t)
	number, ok := models.NormalizePhone(t.Raw)
	if !ok {
		log.Debug("target is not a valid phone number, skipping")
		return nil
	}
	hc := rc.client()
	log.Infof("starting phone lookups for %s", number)

	findings := runLookups(ctx, log, []lookup{
		{"numverify", func(ctx context.Context) ([]models.Finding, error) { return s.validate(ctx, number, hc, rc) }},
		{"twilio", func(ctx context.Context) ([]models.Finding, error) { return s.carrier(ctx, number, hc, rc) }},
		{"riskseal", func(ctx context.Context) ([]models.Finding, error) { return s.fraudRisk(ctx, number, hc, rc) }},
		{"trestle", func(ctx context.Context) ([]models.Finding, error) { return s.reverseIdentity(ctx, number, hc, rc) }},
		{"truecaller", func(ctx context.Context) ([]models.Finding, error) {
			if !level.IsAggressive() {
				return nil, errSkipped
			}
			return s.webPresence(ctx, number, hc, rc)
		}},
	})
	log.Infof("phone lookups finished with %d findings", len(findings))
	return findings
}

type numVerifyResult struct {
	Valid               bool   `json:"valid"`
	Number              string `json:"number"`
	InternationalFormat string `json:"international_format"`
	CountryCode         string `json:"country_code"`
	Location            string `json:"location"`
	Carrier             string `json:"carrier"`
	LineType            string `json:"line_type"`
	Roaming             bool   `json:"roaming"`
	Prepaid             bool   `json:"prepaid"`
}

func (s *PhoneStage) validate(ctx context.Context, number string, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	if !hc.HasCredential(models.KeyNumVerify) {
		return nil, fmt.Errorf("%s: %w", models.KeyNumVerify, ErrNoCredential)
	}
	var res numVerifyResult
	err := hc.JSON(ctx, &httpclient.Request{
		URL:        rc.endpoint("numverify", defaultNumVerify) + "/validate",
		Credential: models.KeyNumVerify,
		Auth:       httpclient.AuthQuery,
		AuthName:   "access_key",
		Params:     url.Values{"number": {number}},
	}, &res)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, nil
	}
	formatted := res.InternationalFormat
	if formatted == "" {
		formatted = number
	}
	return []models.Finding{models.NewFinding("NumVerify", models.SeverityLow, models.PhoneValidation{
		Number:      formatted,
		CountryCode: res.CountryCode,
		Location:    res.Location,
		Carrier:     res.Carrier,
		LineType:    res.LineType,
		IsValid:     res.Valid,
		IsRoaming:   res.Roaming,
		IsPrepaid:   res.Prepaid,
	})}, nil
}

type twilioLookup struct {
	PhoneNumber string `json:"phone_number"`
	Carrier     *struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"carrier"`
	CallerName *struct {
		CallerName *string `json:"caller_name"`
	} `json:"caller_name"`
}

func (s *PhoneStage) carrier(ctx context.Context, number string, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	if !hc.HasCredential(models.KeyTwilio) {
		return nil, fmt.Errorf("%s: %w", models.KeyTwilio, ErrNoCredential)
	}
	var res twilioLookup
	err := hc.JSON(ctx, &httpclient.Request{
		URL:        rc.endpoint("twilio", defaultTwilio) + "/PhoneNumbers/" + url.PathEscape(number),
		Credential: models.KeyTwilio,
		Auth:       httpclient.AuthBasic,
		Params:     url.Values{"Type": {"carrier", "caller-name"}},
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.Carrier == nil {
		return nil, nil
	}
	caller := "Unknown"
	if res.CallerName != nil && res.CallerName.CallerName != nil && *res.CallerName.CallerName != "" {
		caller = *res.CallerName.CallerName
	}
	return []models.Finding{models.NewFinding("Twilio", models.SeverityLow, models.CarrierLookup{
		Number:      number,
		CarrierName: res.Carrier.Name,
		CarrierType: res.Carrier.Type,
		CallerName:  caller,
	})}, nil
}

type riskSealResult struct {
	RiskScore       float64  `json:"risk_score"`
	SimSwapRisk     bool     `json:"sim_swap_risk"`
	FraudIndicators []string `json:"fraud_indicators"`
	LastSeen        string   `json:"last_seen"`
}

func (s *PhoneStage) fraudRisk(ctx context.Context, number string, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	if !hc.HasCredential(models.KeyRiskSeal) {
		return nil, fmt.Errorf("%s: %w", models.KeyRiskSeal, ErrNoCredential)
	}
	var res riskSealResult
	err := hc.JSON(ctx, &httpclient.Request{
		URL:        rc.endpoint("riskseal", defaultRiskSeal) + "/phone/" + url.PathEscape(number),
		Credential: models.KeyRiskSeal,
		Auth:       httpclient.AuthBearer,
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.RiskScore <= fraudRiskThreshold {
		return nil, nil
	}
	indicators := res.FraudIndicators
	if indicators == nil {
		indicators = []string{}
	}
	return []models.Finding{models.NewFinding("RiskSeal", models.SeverityCritical, models.FraudRisk{
		RiskScore:       res.RiskScore,
		SimSwapRisk:     res.SimSwapRisk,
		FraudIndicators: indicators,
		LastSeen:        res.LastSeen,
	})}, nil
}

type trestleResult struct {
	Identity *struct {
		Name    string   `json:"name"`
		Address string   `json:"address"`
		Age     int      `json:"age"`
		Emails  []string `json:"emails"`
	} `json:"identity"`
}

func (s *PhoneStage) reverseIdentity(ctx context.Context, number string, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	if !hc.HasCredential(models.KeyTrestle) {
		return nil, fmt.Errorf("%s: %w", models.KeyTrestle, ErrNoCredential)
	}
	var res trestleResult
	err := hc.JSON(ctx, &httpclient.Request{
		URL:        rc.endpoint("trestle", defaultTrestle) + "/reverse-phone",
		Credential: models.KeyTrestle,
		Auth:       httpclient.AuthBearer,
		Params:     url.Values{"number": {number}},
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.Identity == nil {
		return nil, nil
	}
	emails := res.Identity.Emails
	if emails == nil {
		emails = []string{}
	}
	return []models.Finding{models.NewFinding("Trestle", models.SeverityHigh, models.IdentityMatch{
		Name:             res.Identity.Name,
		Address:          res.Identity.Address,
		Age:              res.Identity.Age,
		AssociatedEmails: emails,
	})}, nil
}

func (s *PhoneStage) webPresence(ctx context.Context, number string, hc *httpclient.Client, rc *RunContext) ([]models.Finding, error) {
	resp, err := hc.Do(ctx, &httpclient.Request{
		URL:    rc.endpoint("truecaller", defaultTruecaller) + "/search/" + url.PathEscape(strings.TrimPrefix(number, "+")),
		Accept: []int{http.StatusOK, http.StatusForbidden, http.StatusNotFound},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Text(), "result") {
		return nil, nil
	}
	return []models.Finding{models.NewFinding("Truecaller", models.SeverityMedium, models.WebPresence{
		Number: number,
		Status: "Possible match found on public site",
		Note:   "No direct API access, use with caution",
	})}, nil
}
