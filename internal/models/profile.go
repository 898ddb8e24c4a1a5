package models

import "sort"

// TriState represents a yes/no question whose answer may be unknown.
// Unknown is represented explicitly rather than by a sentinel string.
type TriState string

const (
	TriYes     TriState = "yes"
	TriNo      TriState = "no"
	TriUnknown TriState = "unknown"
)

// ProfileKey is the closed set of canonical profile keys. Unknown keys are
// ignored at the boundary and never propagated inward.
type ProfileKey string

const (
	KeyFirstName       ProfileKey = "first_name"
	KeyLastName        ProfileKey = "last_name"
	KeyFullName        ProfileKey = "full_name"
	KeyEmail           ProfileKey = "email"
	KeyPhone           ProfileKey = "phone"
	KeyAddress         ProfileKey = "address"
	KeyCity            ProfileKey = "city"
	KeyState           ProfileKey = "state"
	KeyZip             ProfileKey = "zip"
	KeyCountry         ProfileKey = "country"
	KeyCountryCode     ProfileKey = "country_code"
	KeyLinkedIn        ProfileKey = "linkedin"
	KeyGitHub          ProfileKey = "github"
	KeyDateOfBirth     ProfileKey = "date_of_birth"
	KeyGender          ProfileKey = "gender"
	KeyNationality     ProfileKey = "nationality"
	KeyVisaStatus      ProfileKey = "visa_status"
	KeyVisaSponsorship ProfileKey = "visa_sponsorship"
	KeyVeteranStatus   ProfileKey = "veteran_status"
	KeySummary         ProfileKey = "summary"
)

// EducationEntry is one entry in the profile's ordered education sequence.
type EducationEntry struct {
	School    string `json:"school"`
	Degree    string `json:"degree"`
	Field     string `json:"field"`
	StartYear string `json:"start_year"`
	EndYear   string `json:"end_year"`
	GPA       string `json:"gpa,omitempty"`
}

// WorkEntry is one entry in the profile's ordered work-experience sequence.
type WorkEntry struct {
	Company     string `json:"company"`
	Title       string `json:"title"`
	Location    string `json:"location,omitempty"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date,omitempty"`
	Current     bool   `json:"current,omitempty"`
	Description string `json:"description,omitempty"`
}

// ProjectEntry is one entry in the profile's ordered project sequence.
type ProjectEntry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

// ProfileView is the read-only input to a job: the user's canonical data.
// Missing values are represented by absence (empty string / nil slice),
// never by sentinel strings.
type ProfileView struct {
	FirstName          string              `json:"first_name,omitempty"`
	LastName           string              `json:"last_name,omitempty"`
	Email              string              `json:"email,omitempty"`
	Phone              string              `json:"phone,omitempty"`
	Address            string              `json:"address,omitempty"`
	City               string              `json:"city,omitempty"`
	State              string              `json:"state,omitempty"`
	Zip                string              `json:"zip,omitempty"`
	Country            string              `json:"country,omitempty"`
	CountryCode        string              `json:"country_code,omitempty"`
	LinkedIn           string              `json:"linkedin,omitempty"`
	GitHub             string              `json:"github,omitempty"`
	DateOfBirth        string              `json:"date_of_birth,omitempty"`
	Gender             string              `json:"gender,omitempty"`
	Nationality        string              `json:"nationality,omitempty"`
	VisaStatus         string              `json:"visa_status,omitempty"`
	VisaSponsorship    string              `json:"visa_sponsorship,omitempty"`
	VeteranStatus      string              `json:"veteran_status,omitempty"`
	Disabilities       []string            `json:"disabilities,omitempty"`
	WillingToRelocate  TriState            `json:"willing_to_relocate,omitempty"`
	PreferredLocations []string            `json:"preferred_locations,omitempty"`
	Summary            string              `json:"summary,omitempty"`
	Education          []EducationEntry    `json:"education,omitempty"`
	WorkExperience     []WorkEntry         `json:"work_experience,omitempty"`
	Projects           []ProjectEntry      `json:"projects,omitempty"`
	Skills             map[string][]string `json:"skills,omitempty"`
	ResumeBlobRef      string              `json:"resume_blob_ref,omitempty"`
	CoverLetterTmpl    string              `json:"cover_letter_template,omitempty"`
}

// Value resolves a canonical scalar key against the profile. The second
// return is false when the profile has no value for the key.
func (p *ProfileView) Value(key ProfileKey) (string, bool) {
	var v string
	switch key {
	case KeyFirstName:
		v = p.FirstName
	case KeyLastName:
		v = p.LastName
	case KeyFullName:
		if p.FirstName != "" && p.LastName != "" {
			v = p.FirstName + " " + p.LastName
		} else {
			v = p.FirstName + p.LastName
		}
	case KeyEmail:
		v = p.Email
	case KeyPhone:
		v = p.Phone
	case KeyAddress:
		v = p.Address
	case KeyCity:
		v = p.City
	case KeyState:
		v = p.State
	case KeyZip:
		v = p.Zip
	case KeyCountry:
		v = p.Country
	case KeyCountryCode:
		v = p.CountryCode
	case KeyLinkedIn:
		v = p.LinkedIn
	case KeyGitHub:
		v = p.GitHub
	case KeyDateOfBirth:
		v = p.DateOfBirth
	case KeyGender:
		v = p.Gender
	case KeyNationality:
		v = p.Nationality
	case KeyVisaStatus:
		v = p.VisaStatus
	case KeyVisaSponsorship:
		v = p.VisaSponsorship
	case KeyVeteranStatus:
		v = p.VeteranStatus
	case KeySummary:
		v = p.Summary
	default:
		return "", false
	}
	if v == "" {
		return "", false
	}
	return v, true
}

// AllSkills flattens the category->skills mapping into a single list.
// Categories are visited in sorted order so the result is deterministic.
func (p *ProfileView) AllSkills() []string {
	categories := make([]string, 0, len(p.Skills))
	for category := range p.Skills {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	var out []string
	for _, category := range categories {
		out = append(out, p.Skills[category]...)
	}
	return out
}
