package models

type Place struct {
	PlaceID         string `json:"place_id" yaml:"id"`
	NameEn          string `json:"name_en" yaml:"name_en"`
	NameAr          string `json:"name_ar,omitempty" yaml:"name_ar"`
	EstimateMinutes int    `json:"estimate_minutes,omitempty" yaml:"estimate_minutes"`
}

type Service struct {
	ServiceID       string `json:"service_id" yaml:"id"`
	PlaceID         string `json:"place_id" yaml:"place_id"`
	NameEn          string `json:"name_en" yaml:"name_en"`
	NameAr          string `json:"name_ar,omitempty" yaml:"name_ar"`
	EstimateMinutes int    `json:"estimate_minutes,omitempty" yaml:"estimate_minutes"`
}

type User struct {
	UserID string `json:"user_id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Role   string `json:"role" yaml:"role"`
}

const (
	RoleCustomer = "customer"
	RoleEmployee = "employee"
	RoleAdmin    = "admin"
)

func (p Place) Snapshot() PlaceSnapshot {
	return PlaceSnapshot{
		PlaceID:         p.PlaceID,
		NameEn:          p.NameEn,
		NameAr:          p.NameAr,
		EstimateMinutes: p.EstimateMinutes,
	}
}

func (u User) EmployeeSnapshot() *EmployeeSnapshot {
	return &EmployeeSnapshot{UserID: u.UserID, Name: u.Name}
}

// Summary is the short form of a place or service used in list responses.
type Summary struct {
	ID     string `json:"id"`
	NameEn string `json:"name_en"`
	NameAr string `json:"name_ar,omitempty"`
}

func (p Place) Summary() Summary {
	return Summary{ID: p.PlaceID, NameEn: p.NameEn, NameAr: p.NameAr}
}

func (s Service) Summary() Summary {
	return Summary{ID: s.ServiceID, NameEn: s.NameEn, NameAr: s.NameAr}
}
