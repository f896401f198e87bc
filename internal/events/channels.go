package events

import (
	"strings"

	"qms/place-queue/internal/models"
)

const (
	placePrefix  = "place:"
	servicePart  = ":service:"
	userPrefix   = "user:"
	PlacePattern = "place:*"
	UserPattern  = "user:*"
)

func PlaceChannel(placeID string) string {
	return placePrefix + placeID
}

func ServiceChannel(placeID, serviceID string) string {
	return placePrefix + placeID + servicePart + serviceID
}

func UserChannel(userID string) string {
	return userPrefix + userID
}

// ScopeChannels lists the place channel and, for service queues, the
// service channel.
func ScopeChannels(scope models.Scope) []string {
	channels := []string{PlaceChannel(scope.PlaceID)}
	if scope.HasService() {
		channels = append(channels, ServiceChannel(scope.PlaceID, scope.ServiceID))
	}
	return channels
}

// ValidChannel accepts place:{id}, place:{id}:service:{id} and user:{id}.
func ValidChannel(name string) bool {
	switch {
	case strings.HasPrefix(name, userPrefix):
		return validID(strings.TrimPrefix(name, userPrefix))
	case strings.HasPrefix(name, placePrefix):
		rest := strings.TrimPrefix(name, placePrefix)
		placeID, serviceID, found := strings.Cut(rest, servicePart)
		if !found {
			return validID(rest)
		}
		return validID(placeID) && validID(serviceID)
	}
	return false
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, ":*? ")
}
