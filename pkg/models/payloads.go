package models

import "encoding/json"

type Kind string

const (
	KindEmailBreach       Kind = "EMAIL_BREACH"
	KindPasteLeak         Kind = "PASTEBIN_LEAK"
	KindCodeSecret        Kind = "GITHUB_SECRET"
	KindMailVerified      Kind = "HUNTERIO_VERIFIED"
	KindLeakIndex         Kind = "INTELX_LEAK"
	KindPhoneValidation   Kind = "NUMVERIFY_LOOKUP"
	KindCarrierLookup     Kind = "TWILIO_LOOKUP"
	KindFraudRisk         Kind = "RISKSEAL_RISK"
	KindIdentityMatch     Kind = "TRESTLE_IDENTITY"
	KindWebPresence       Kind = "TRUECALLER_DETECTED"
	KindHandleFound       Kind = "USERNAME_FOUND"
	KindHandleNotFound    Kind = "USERNAME_NOT_FOUND"
	KindArchivedSnapshot  Kind = "WAYBACK_ARCHIVED"
	KindSearchMatch       Kind = "GOOGLE_DORK_MATCH"
	KindDarkWebLeak       Kind = "DARKWEB_LEAK"
	KindCodeLeak          Kind = "GITHUB_LEAK"
	KindCodeSearchMatch   Kind = "GOOGLE_GITHUB_MATCH"
	KindShodanSubdomain   Kind = "SHODAN_SUBDOMAIN"
	KindCensysSubdomain   Kind = "CENSYS_SUBDOMAIN"
	KindCertSubdomain     Kind = "CRTSH_SUBDOMAIN"
	KindBucketFound       Kind = "S3_BUCKET_FOUND"
	KindBucketExposed     Kind = "S3_BUCKET_EXPOSED"
	KindDNSPosture        Kind = "DNS_POSTURE"
	KindWhoisRecord       Kind = "WHOIS_RECORD"
	KindLinkedInProfile   Kind = "LINKEDIN_PROFILE"
	KindTwitterProfile    Kind = "TWITTER_PROFILE"
	KindInstagramProfile  Kind = "INSTAGRAM_PROFILE"
	KindFacebookPublic    Kind = "FACEBOOK_PUBLIC"
	KindGitHubProfile     Kind = "GITHUB_SOCIAL"
	KindTikTokProfile     Kind = "TIKTOK_PROFILE"
	KindSimulatedCrack    Kind = "CREDENTIAL_SIMULATED_CRACK"
	KindCredentialVariant Kind = "CREDENTIAL_VARIATION"
	KindAISummary         Kind = "AI_SUMMARY"
)

type Payload interface {
	Kind() Kind
}

// identity-breach

type BreachRecord struct {
	Email      string `json:"email,omitempty"`
	Name       string `json:"name"`
	Domain     string `json:"domain"`
	BreachDate string `json:"breach_date"`
	PwnCount   int64  `json:"pwn_count"`
	IsVerified bool   `json:"is_verified"`
}

type PasteLeak struct {
	URL  string `json:"url"`
	Date string `json:"date"`
	Text string `json:"text"`
}

type CodeSecret struct {
	File string `json:"file"`
	Path string `json:"path"`
	Repo string `json:"repo"`
	URL  string `json:"url"`
}

type MailVerification struct {
	Email      string `json:"email"`
	Confidence int    `json:"confidence"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Role       string `json:"role"`
}

type LeakIndexHit struct {
	Title  string `json:"title"`
	Date   string `json:"date"`
	Origin string `json:"source"`
	Count  int    `json:"count"`
}

// phone-identity

type PhoneValidation struct {
	Number      string `json:"number"`
	CountryCode string `json:"country_code"`
	Location    string `json:"location"`
	Carrier     string `json:"carrier"`
	LineType    string `json:"line_type"`
	IsValid     bool   `json:"is_valid"`
	IsRoaming   bool   `json:"is_roaming"`
	IsPrepaid   bool   `json:"is_prepaid"`
}

type CarrierLookup struct {
	Number      string `json:"number"`
	CarrierName string `json:"carrier_name"`
	CarrierType string `json:"carrier_type"`
	CallerName  string `json:"caller_name"`
}

type FraudRisk struct {
	RiskScore       float64  `json:"risk_score"`
	SimSwapRisk     bool     `json:"sim_swap_risk"`
	FraudIndicators []string `json:"fraud_indicators"`
	LastSeen        string   `json:"last_seen"`
}

type IdentityMatch struct {
	Name             string   `json:"name"`
	Address          string   `json:"address"`
	Age              int      `json:"age"`
	AssociatedEmails []string `json:"associated_emails"`
}

type WebPresence struct {
	Number string `json:"number"`
	Status string `json:"status"`
	Note   string `json:"note"`
}

// handle-presence

type HandleFound struct {
	Site        string `json:"site"`
	URL         string `json:"url"`
	Status      string `json:"status"`
	LastSeen    string `json:"last_seen"`
	ArchivedURL string `json:"archived_url,omitempty"`
	Bio         string `json:"bio"`
}

type HandleNotFound struct {
	Site   string `json:"site"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type ArchivedSnapshot struct {
	URL         string `json:"url"`
	Timestamp   string `json:"timestamp"`
	ArchiveLink string `json:"archive_link"`
}

type SearchMatch struct {
	Dork    string `json:"dork"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// dark-web-mirror

type DarkWebLeak struct {
	Link        string `json:"link"`
	Snippet     string `json:"snippet"`
	ContentHash string `json:"content_hash"`
}

// code-repository-leak

type CodeLeak struct {
	File      string `json:"file"`
	Repo      string `json:"repo"`
	URL       string `json:"url"`
	Snippet   string `json:"snippet"`
	CommitSHA string `json:"commit_sha"`
	Query     string `json:"query"`
}

type CodeSearchMatch struct {
	URL  string `json:"url"`
	Note string `json:"note"`
}

// network/asset-recon

type ShodanSubdomain struct {
	Subdomain string `json:"subdomain"`
	IP        string `json:"ip"`
	Ports     []int  `json:"ports"`
	Service   string `json:"service"`
}

type CensysSubdomain struct {
	Subdomain    string   `json:"subdomain"`
	IP           string   `json:"ip"`
	Services     []string `json:"services"`
	Certificates []string `json:"certificate"`
}

type CertSubdomain struct {
	Subdomain string `json:"subdomain"`
	Issued    string `json:"issued"`
	Issuer    string `json:"issuer"`
}

type BucketProbe struct {
	Bucket string `json:"bucket"`
	Status string `json:"status"`
}

type BucketExposure BucketProbe

type DNSPosture struct {
	Domain string   `json:"domain"`
	MX     []string `json:"mx"`
	SPF    string   `json:"spf"`
	DMARC  string   `json:"dmarc"`
	Issue  string   `json:"issue,omitempty"`
}

type WhoisRecord struct {
	Domain       string   `json:"domain"`
	Registrar    string   `json:"registrar"`
	Organization string   `json:"organization"`
	Country      string   `json:"country"`
	Email        string   `json:"email"`
	Created      string   `json:"created"`
	Expires      string   `json:"expires"`
	NameServers  []string `json:"name_servers"`
}

// social-profile

type SocialProfile struct {
	URL       string `json:"url"`
	Name      string `json:"name,omitempty"`
	Bio       string `json:"bio,omitempty"`
	Followers string `json:"followers,omitempty"`
	Following string `json:"following,omitempty"`
	Repos     string `json:"repos,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	Status    string `json:"status,omitempty"`
	Note      string `json:"note,omitempty"`
}

type LinkedInProfile SocialProfile
type TwitterProfile SocialProfile
type InstagramProfile SocialProfile
type FacebookProfile SocialProfile
type GitHubProfile SocialProfile
type TikTokProfile SocialProfile

// credential-pattern simulation

type SimulatedCrack struct {
	Password      string  `json:"password"`
	HashType      string  `json:"hash_type"`
	HashValue     string  `json:"hash_value"`
	ReuseScore    float64 `json:"reuse_score"`
	MatchedBreach string  `json:"matched_breach"`
}

type CredentialVariant struct {
	Guess string `json:"guess"`
	Note  string `json:"note"`
}

// synthesis

type SynthesisRecord struct {
	DigitalTwin        DigitalTwin `json:"digital_twin"`
	EthicalInsight     string      `json:"ethical_insight"`
	UnethicalAwareness string      `json:"unethical_awareness"`
}

type DigitalTwin struct {
	Identity IdentityFacts  `json:"identity"`
	Exposure ExposureCounts `json:"exposure"`
	Behavior BehaviorTags   `json:"behavior"`
}

type IdentityFacts struct {
	Emails    []string `json:"emails"`
	Phones    []string `json:"phones"`
	Usernames []string `json:"usernames"`
}

type ExposureCounts struct {
	Breaches       int `json:"breaches"`
	Secrets        int `json:"secrets"`
	SocialProfiles int `json:"social_profiles"`
}

type BehaviorTags struct {
	TechExposure   string `json:"tech_exposure"`
	PublicPresence string `json:"public_presence"`
}

func (BreachRecord) Kind() Kind      { return KindEmailBreach }
func (PasteLeak) Kind() Kind         { return KindPasteLeak }
func (CodeSecret) Kind() Kind        { return KindCodeSecret }
func (MailVerification) Kind() Kind  { return KindMailVerified }
func (LeakIndexHit) Kind() Kind      { return KindLeakIndex }
func (PhoneValidation) Kind() Kind   { return KindPhoneValidation }
func (CarrierLookup) Kind() Kind     { return KindCarrierLookup }
func (FraudRisk) Kind() Kind         { return KindFraudRisk }
func (IdentityMatch) Kind() Kind     { return KindIdentityMatch }
func (WebPresence) Kind() Kind       { return KindWebPresence }
func (HandleFound) Kind() Kind       { return KindHandleFound }
func (HandleNotFound) Kind() Kind    { return KindHandleNotFound }
func (ArchivedSnapshot) Kind() Kind  { return KindArchivedSnapshot }
func (SearchMatch) Kind() Kind       { return KindSearchMatch }
func (DarkWebLeak) Kind() Kind       { return KindDarkWebLeak }
func (CodeLeak) Kind() Kind          { return KindCodeLeak }
func (CodeSearchMatch) Kind() Kind   { return KindCodeSearchMatch }
func (ShodanSubdomain) Kind() Kind   { return KindShodanSubdomain }
func (CensysSubdomain) Kind() Kind   { return KindCensysSubdomain }
func (CertSubdomain) Kind() Kind     { return KindCertSubdomain }
func (BucketProbe) Kind() Kind       { return KindBucketFound }
func (BucketExposure) Kind() Kind    { return KindBucketExposed }
func (DNSPosture) Kind() Kind        { return KindDNSPosture }
func (WhoisRecord) Kind() Kind       { return KindWhoisRecord }
func (LinkedInProfile) Kind() Kind   { return KindLinkedInProfile }
func (TwitterProfile) Kind() Kind    { return KindTwitterProfile }
func (InstagramProfile) Kind() Kind  { return KindInstagramProfile }
func (FacebookProfile) Kind() Kind   { return KindFacebookPublic }
func (GitHubProfile) Kind() Kind     { return KindGitHubProfile }
func (TikTokProfile) Kind() Kind     { return KindTikTokProfile }
func (SimulatedCrack) Kind() Kind    { return KindSimulatedCrack }
func (CredentialVariant) Kind() Kind { return KindCredentialVariant }
func (SynthesisRecord) Kind() Kind   { return KindAISummary }

var payloadDecoders = map[Kind]func(json.RawMessage) (Payload, error){
	KindEmailBreach:       decodeAs[BreachRecord],
	KindPasteLeak:         decodeAs[PasteLeak],
	KindCodeSecret:        decodeAs[CodeSecret],
	KindMailVerified:      decodeAs[MailVerification],
	KindLeakIndex:         decodeAs[LeakIndexHit],
	KindPhoneValidation:   decodeAs[PhoneValidation],
	KindCarrierLookup:     decodeAs[CarrierLookup],
	KindFraudRisk:         decodeAs[FraudRisk],
	KindIdentityMatch:     decodeAs[IdentityMatch],
	KindWebPresence:       decodeAs[WebPresence],
	KindHandleFound:       decodeAs[HandleFound],
	KindHandleNotFound:    decodeAs[HandleNotFound],
	KindArchivedSnapshot:  decodeAs[ArchivedSnapshot],
	KindSearchMatch:       decodeAs[SearchMatch],
	KindDarkWebLeak:       decodeAs[DarkWebLeak],
	KindCodeLeak:          decodeAs[CodeLeak],
	KindCodeSearchMatch:   decodeAs[CodeSearchMatch],
	KindShodanSubdomain:   decodeAs[ShodanSubdomain],
	KindCensysSubdomain:   decodeAs[CensysSubdomain],
	KindCertSubdomain:     decodeAs[CertSubdomain],
	KindBucketFound:       decodeAs[BucketProbe],
	KindBucketExposed:     decodeAs[BucketExposure],
	KindDNSPosture:        decodeAs[DNSPosture],
	KindWhoisRecord:       decodeAs[WhoisRecord],
	KindLinkedInProfile:   decodeAs[LinkedInProfile],
	KindTwitterProfile:    decodeAs[TwitterProfile],
	KindInstagramProfile:  decodeAs[InstagramProfile],
	KindFacebookPublic:    decodeAs[FacebookProfile],
	KindGitHubProfile:     decodeAs[GitHubProfile],
	KindTikTokProfile:     decodeAs[TikTokProfile],
	KindSimulatedCrack:    decodeAs[SimulatedCrack],
	KindCredentialVariant: decodeAs[CredentialVariant],
	KindAISummary:         decodeAs[SynthesisRecord],
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}
