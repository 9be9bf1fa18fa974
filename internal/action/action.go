// Package action is the closed set of API actions the edge can invoke.
package action

import "fmt"

// Action is an API action. The zero value is not a valid action.
type Action int

const (
	_ Action = iota
	Status
	Health
	GetPublicBundle
	GetAdminBundle
	GetDisplayBundle
	GetPosterBundle
	GetSharedAnalytics
	GetSponsorAnalytics
	ListEvents
	SetupCheck
	CheckPermissions
)

// All lists every action in declaration order.
var All = []Action{
	Status, Health, GetPublicBundle, GetAdminBundle, GetDisplayBundle,
	GetPosterBundle, GetSharedAnalytics, GetSponsorAnalytics, ListEvents,
	SetupCheck, CheckPermissions,
}

// Feature flag names checked before an action runs.
const (
	FeatureSharedReport     = "sharedReportEnabled"
	FeatureSponsorAnalytics = "sponsorAnalyticsEnabled"
	FeaturePoster           = "posterEnabled"
	FeatureDisplay          = "displayEnabled"
)

type info struct {
	name          string
	handler       string
	feature       string
	requiresAdmin bool
	requiresID    bool
	read          bool
}

func (a Action) info() info {
	switch a {
	case Status:
		return info{name: "status", handler: "handleWorkerStatusRequest", read: true}
	case Health:
		return info{name: "health", handler: "handleHealthCheckEndpoint", read: true}
	case GetPublicBundle:
		return info{name: "getPublicBundle", handler: "handlePublicBundle", requiresID: true, read: true}
	case GetAdminBundle:
		return info{name: "getAdminBundle", handler: "handleAdminBundle", requiresAdmin: true, requiresID: true}
	case GetDisplayBundle:
		return info{name: "getDisplayBundle", handler: "handleDisplayBundle", feature: FeatureDisplay, requiresID: true, read: true}
	case GetPosterBundle:
		return info{name: "getPosterBundle", handler: "handlePosterBundle", feature: FeaturePoster, requiresID: true, read: true}
	case GetSharedAnalytics:
		return info{name: "getSharedAnalytics", handler: "handleSharedAnalytics", feature: FeatureSharedReport, read: true}
	case GetSponsorAnalytics:
		return info{name: "getSponsorAnalytics", handler: "handleSponsorAnalytics", feature: FeatureSponsorAnalytics, read: true}
	case ListEvents:
		return info{name: "listEvents", handler: "handleListEvents", read: true}
	case SetupCheck:
		return info{name: "setupCheck", handler: "handleSetupCheck", read: true}
	case CheckPermissions:
		return info{name: "checkPermissions", handler: "handleCheckPermissions", requiresAdmin: true}
	}
	return info{}
}

// String returns the wire name, e.g. "getPublicBundle".
func (a Action) String() string {
	if n := a.info().name; n != "" {
		return n
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Valid reports whether a is one of the declared actions.
func (a Action) Valid() bool {
	return a.info().name != ""
}

// HandlerName is the symbolic backend handler the action maps to.
func (a Action) HandlerName() string {
	return a.info().handler
}

// Feature is the kill switch guarding the action, or "".
func (a Action) Feature() string {
	return a.info().feature
}

// RequiresAdmin reports whether the caller must present the brand admin key.
func (a Action) RequiresAdmin() bool {
	return a.info().requiresAdmin
}

// RequiresEventID reports whether the action needs an "id" parameter.
func (a Action) RequiresEventID() bool {
	return a.info().requiresID
}

// Read reports whether the action has no side effects and may be cached or
// coalesced.
func (a Action) Read() bool {
	return a.info().read
}

var byName = func() map[string]Action {
	m := make(map[string]Action, len(All))
	for _, a := range All {
		m[a.String()] = a
	}
	return m
}()

// Parse maps a wire name to an action. Names are case-sensitive.
func Parse(name string) (Action, bool) {
	a, ok := byName[name]
	return a, ok
}
