// Package catalogue holds the read-mostly fleet catalogue: nodes, the
// datasets they publish, and the stations those datasets carry.
package catalogue

import "strings"

// DatasetStatus is the lifecycle state of a catalogue Dataset.
type DatasetStatus string

const (
	DatasetActive   DatasetStatus = "active"
	DatasetInactive DatasetStatus = "inactive"
	DatasetDeleted  DatasetStatus = "deleted"
)

// TLSConfig carries the optional transport security settings for a Node's
// MQTT broker connection.
type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
}

// Node is a WIS2 publisher node: a broker endpoint plus the datasets it
// currently advertises. It is read-only to the fleet supervisor — writes
// happen only through the catalogue synchroniser.
type Node struct {
	ID       string
	Name     string
	Host     string
	Port     int
	TLS      TLSConfig
	Username string
	Password string
	Active   bool

	DiscoveryMetadataURL string
	StationsURL          string
	VerifySSL            bool

	Datasets []Dataset
}

// Eligible reports whether the node may be monitored at all. A node with
// an empty host can never be connected to, regardless of its Active flag.
func (n Node) Eligible() bool {
	return strings.TrimSpace(n.Host) != ""
}

// Topics returns the MQTT topic filters contributed by the node's active
// datasets. Inactive and deleted datasets never contribute subscriptions.
func (n Node) Topics() []string {
	topics := make([]string, 0, len(n.Datasets))
	for _, d := range n.Datasets {
		if d.Status == DatasetActive && d.Topic != "" {
			topics = append(topics, d.Topic)
		}
	}
	return topics
}

// Dataset is one catalogue entry: a single MQTT topic pattern owned by a
// node, pinned to a unique identifier (URN).
type Dataset struct {
	ID     string // URN, unique
	NodeID string
	Topic  string
	Status DatasetStatus

	Title          string
	DataPolicy     string
	TopicHierarchy string
	SelfLink       string
	CanonicalLink  string
	CollectionLink string
	MetadataCreated string
	MetadataUpdated string
}

// Station is a catalogue entry for an observing station, globally
// identified by its WIGOS id. Dataset membership is recomputed wholesale
// on every catalogue sync from properties.topics.
type Station struct {
	WIGOS        string
	Name         string
	Lon          float64
	Lat          float64
	Alt          float64
	FacilityType string
	DatasetIDs   []string
}

// MemberOf reports whether the station belongs to the given dataset.
func (s Station) MemberOf(datasetID string) bool {
	for _, id := range s.DatasetIDs {
		if id == datasetID {
			return true
		}
	}
	return false
}
