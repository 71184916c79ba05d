// Package roles classifies a member's role snapshot into a review category and bucket.
//
// The Classifier is built once from configuration and is safe for concurrent use.
// It never mutates the snapshots passed to it.
package roles

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/warden/internal/config"
)

var (
	// ErrNoBucketRole means the member holds none of the configured bucket roles.
	ErrNoBucketRole = errors.New("no bucket role")
	// ErrAmbiguousBucket means the member holds more than one bucket role.
	ErrAmbiguousBucket = errors.New("ambiguous bucket")
)

// ClassificationError carries the bucket roles that were matched when classification failed.
type ClassificationError struct {
	Err     error
	RoleIDs []string
}

func (e *ClassificationError) Error() string {
	if len(e.RoleIDs) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: matched roles %s", e.Err, strings.Join(e.RoleIDs, ","))
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// Set is a point-in-time copy of a member's role ids.
type Set map[string]struct{}

// NewSet copies ids into a new Set.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether the set contains id.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the role ids in ascending order.
func (s Set) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same ids.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// Bucket is a resolved bucket with its owning category.
type Bucket struct {
	RoleID     string
	Name       string
	LeadRoleID string
	Category   string
	Index      int // position inside the category, used for ordering
}

// Category is a resolved category definition.
type Category struct {
	Name       string
	ChannelID  string
	LeadRoleID string
	Buckets    []Bucket
}

// Classification is the result of a successful Classify.
type Classification struct {
	Category Category
	Bucket   Bucket
}

// Classifier holds the lookup tables derived from configuration.
type Classifier struct {
	categories  []Category
	byName      map[string]int
	byChannel   map[string]int
	byLeadRole  map[string]int
	buckets     map[string]Bucket // bucket role id → bucket
	bucketLeads map[string][]Bucket
	guildRoles  map[string]string
	exemptRoles map[string]struct{}
	masterLead  string
}

// NewClassifier builds the lookup tables once from a validated configuration.
func NewClassifier(cfg *config.WardenConfig) *Classifier {
	c := &Classifier{
		byName:      make(map[string]int),
		byChannel:   make(map[string]int),
		byLeadRole:  make(map[string]int),
		buckets:     make(map[string]Bucket),
		bucketLeads: make(map[string][]Bucket),
		guildRoles:  make(map[string]string),
		exemptRoles: make(map[string]struct{}),
		masterLead:  cfg.MasterLeadRoleID,
	}

	for i, cc := range cfg.Categories {
		cat := Category{Name: cc.Name, ChannelID: cc.ChannelID, LeadRoleID: cc.LeadRoleID}
		for j, bc := range cc.Buckets {
			b := Bucket{RoleID: bc.RoleID, Name: bc.Name, LeadRoleID: bc.LeadRoleID, Category: cc.Name, Index: j}
			cat.Buckets = append(cat.Buckets, b)
			c.buckets[b.RoleID] = b
			c.bucketLeads[b.LeadRoleID] = append(c.bucketLeads[b.LeadRoleID], b)
		}
		c.categories = append(c.categories, cat)
		c.byName[cat.Name] = i
		c.byChannel[cat.ChannelID] = i
		c.byLeadRole[cat.LeadRoleID] = i
	}
	for _, gr := range cfg.GuildRoles {
		c.guildRoles[gr.ID] = gr.Name
	}
	for _, id := range cfg.ExemptRoleIDs {
		c.exemptRoles[id] = struct{}{}
	}
	return c
}

// Classify maps a role snapshot to exactly one (category, bucket) pair.
func (c *Classifier) Classify(roles Set) (Classification, error) {
	var matched []string
	for id := range roles {
		if _, ok := c.buckets[id]; ok {
			matched = append(matched, id)
		}
	}
	sort.Strings(matched)

	switch len(matched) {
	case 0:
		return Classification{}, &ClassificationError{Err: ErrNoBucketRole}
	case 1:
		b := c.buckets[matched[0]]
		return Classification{Category: c.categories[c.byName[b.Category]], Bucket: b}, nil
	default:
		return Classification{}, &ClassificationError{Err: ErrAmbiguousBucket, RoleIDs: matched}
	}
}

// Categories returns the configured categories in configuration order.
func (c *Classifier) Categories() []Category {
	return c.categories
}

// Category looks a category up by name.
func (c *Classifier) Category(name string) (Category, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Category{}, false
	}
	return c.categories[i], true
}

// CategoryByChannel looks a category up by its backing channel.
func (c *Classifier) CategoryByChannel(channelID string) (Category, bool) {
	i, ok := c.byChannel[channelID]
	if !ok {
		return Category{}, false
	}
	return c.categories[i], true
}

// CategoryByLeadRole looks a category up by its lead role.
func (c *Classifier) CategoryByLeadRole(roleID string) (Category, bool) {
	i, ok := c.byLeadRole[roleID]
	if !ok {
		return Category{}, false
	}
	return c.categories[i], true
}

// Bucket looks a bucket up by its role id.
func (c *Classifier) Bucket(roleID string) (Bucket, bool) {
	b, ok := c.buckets[roleID]
	return b, ok
}

// BucketsLedBy returns the buckets whose lead role is roleID.
// A lead role may lead buckets in several categories; each is returned.
func (c *Classifier) BucketsLedBy(roleID string) []Bucket {
	return c.bucketLeads[roleID]
}

// IsBucketLeadRole reports whether roleID is any bucket's lead role.
func (c *Classifier) IsBucketLeadRole(roleID string) bool {
	_, ok := c.bucketLeads[roleID]
	return ok
}

// GuildRole returns the first guild-affiliation role in the snapshot, by ascending id.
func (c *Classifier) GuildRole(roles Set) (id, name string, ok bool) {
	for _, rid := range roles.IDs() {
		if n, found := c.guildRoles[rid]; found {
			return rid, n, true
		}
	}
	return "", "", false
}

// HasGuildRole reports whether the snapshot holds any guild-affiliation role.
func (c *Classifier) HasGuildRole(roles Set) bool {
	_, _, ok := c.GuildRole(roles)
	return ok
}

// IsExempt reports whether the snapshot holds a role exempt from review requirements.
func (c *Classifier) IsExempt(roles Set) bool {
	for id := range roles {
		if _, ok := c.exemptRoles[id]; ok {
			return true
		}
	}
	return false
}

// IsCategoryLead reports whether the snapshot holds the category's lead role.
func (c *Classifier) IsCategoryLead(roles Set, category string) bool {
	cat, ok := c.Category(category)
	return ok && roles.Has(cat.LeadRoleID)
}

// IsAnyLead reports whether the snapshot holds any category lead role or the master lead role.
func (c *Classifier) IsAnyLead(roles Set) bool {
	if c.masterLead != "" && roles.Has(c.masterLead) {
		return true
	}
	for _, cat := range c.categories {
		if roles.Has(cat.LeadRoleID) {
			return true
		}
	}
	return false
}

// MasterLeadRoleID returns the configured master lead role, or "".
func (c *Classifier) MasterLeadRoleID() string {
	return c.masterLead
}

// LeadRoles computes the lead-role hierarchy a member should hold given their bucket-lead roles.
// The result maps each managed role id (category leads and the master lead) to whether the
// member should hold it.
func (c *Classifier) LeadRoles(roles Set) map[string]bool {
	want := make(map[string]bool, len(c.categories)+1)
	anyLead := false
	for _, cat := range c.categories {
		holds := false
		for _, b := range cat.Buckets {
			if roles.Has(b.LeadRoleID) {
				holds = true
				break
			}
		}
		want[cat.LeadRoleID] = holds
		anyLead = anyLead || holds
	}
	if c.masterLead != "" {
		want[c.masterLead] = anyLead
	}
	return want
}
