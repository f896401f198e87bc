// Package directory resolves places, services and users owned by other
// services.
package directory

import (
	"context"
	"fmt"
	"os"

	"qms/place-queue/internal/models"
	"qms/place-queue/internal/store"

	"gopkg.in/yaml.v3"
)

// Static serves directory records from memory. It backs the sqlite and
// memory deployments where no shared directory database exists.
type Static struct {
	places   map[string]models.Place
	services map[string]models.Service
	users    map[string]models.User
}

type staticFile struct {
	Places   []models.Place   `yaml:"places"`
	Services []models.Service `yaml:"services"`
	Users    []models.User    `yaml:"users"`
}

func NewStatic(places []models.Place, services []models.Service, users []models.User) *Static {
	d := &Static{
		places:   make(map[string]models.Place, len(places)),
		services: make(map[string]models.Service, len(services)),
		users:    make(map[string]models.User, len(users)),
	}
	for _, place := range places {
		d.places[place.PlaceID] = place
	}
	for _, service := range services {
		d.services[service.ServiceID] = service
	}
	for _, user := range users {
		d.users[user.UserID] = user
	}
	return d
}

// LoadStatic reads a YAML file with places, services and users lists.
func LoadStatic(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseStatic(raw)
}

func ParseStatic(raw []byte) (*Static, error) {
	var file staticFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse directory: %w", err)
	}
	for _, service := range file.Services {
		if service.PlaceID == "" {
			return nil, fmt.Errorf("parse directory: service %s has no place_id", service.ServiceID)
		}
	}
	return NewStatic(file.Places, file.Services, file.Users), nil
}

func (d *Static) GetPlace(ctx context.Context, placeID string) (models.Place, error) {
	place, ok := d.places[placeID]
	if !ok {
		return models.Place{}, store.ErrPlaceNotFound
	}
	return place, nil
}

func (d *Static) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	service, ok := d.services[serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	return service, nil
}

func (d *Static) GetUser(ctx context.Context, userID string) (models.User, error) {
	user, ok := d.users[userID]
	if !ok {
		return models.User{}, store.ErrUserNotFound
	}
	return user, nil
}
