// Package townmap holds the town's location graph. Each location owns a small
// notice feed; feeds are generic but in practice only the town square gets
// posted to.
package townmap

type LocationType string

const (
	TypeSquare  LocationType = "Square"
	TypeSaloon  LocationType = "Saloon"
	TypeHome    LocationType = "Home"
	TypeLibrary LocationType = "Library"
	TypeShop    LocationType = "Shop"
	TypeFarm    LocationType = "Farm"
)

// MaxNotices bounds every location's notice feed.
const MaxNotices = 5

type Notice struct {
	Content   string `json:"content"`
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
}

type Location struct {
	Name        string
	Type        LocationType
	Description string
	Connected   []string
	Coordinates [2]int
	Notices     []Notice
}

// PostNotice prepends a notice and truncates the feed to MaxNotices entries,
// most recent first.
func (l *Location) PostNotice(n Notice) {
	l.Notices = append([]Notice{n}, l.Notices...)
	if len(l.Notices) > MaxNotices {
		l.Notices = l.Notices[:MaxNotices]
	}
}

func (l *Location) isConnected(name string) bool {
	for _, c := range l.Connected {
		if c == name {
			return true
		}
	}
	return false
}

// Map is the location graph. Adjacency is symmetric.
type Map struct {
	locations map[string]*Location
	order     []string
}

func New() *Map {
	return &Map{locations: map[string]*Location{}}
}

// NewDefault is the startup fallback when the location dataset is missing or
// corrupt: a single town square, so the map always has one valid location.
func NewDefault(squareName string) *Map {
	m := New()
	m.AddLocation(&Location{
		Name:        squareName,
		Type:        TypeSquare,
		Description: "The center of town.",
		Coordinates: [2]int{400, 300},
	})
	return m
}

func (m *Map) AddLocation(loc *Location) {
	if _, ok := m.locations[loc.Name]; !ok {
		m.order = append(m.order, loc.Name)
	}
	m.locations[loc.Name] = loc
}

// ConnectLocations links two locations in both directions. Unknown names and
// already-connected pairs are no-ops.
func (m *Map) ConnectLocations(a, b string) {
	la, lb := m.locations[a], m.locations[b]
	if la == nil || lb == nil {
		return
	}
	if !la.isConnected(b) {
		la.Connected = append(la.Connected, b)
	}
	if !lb.isConnected(a) {
		lb.Connected = append(lb.Connected, a)
	}
}

// Get returns the named location, or nil.
func (m *Map) Get(name string) *Location { return m.locations[name] }

// Names returns location names in insertion order.
func (m *Map) Names() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Len returns the number of locations.
func (m *Map) Len() int { return len(m.locations) }

// Square returns the first square-typed location, or nil.
func (m *Map) Square() *Location {
	for _, name := range m.order {
		if loc := m.locations[name]; loc.Type == TypeSquare {
			return loc
		}
	}
	return nil
}

// AddHome synthesizes a per-owner home location and connects it to the square.
// Returns the home's name.
func (m *Map) AddHome(ownerName string, coordinates [2]int) string {
	homeName := ownerName + "的家"
	m.AddLocation(&Location{
		Name:        homeName,
		Type:        TypeHome,
		Description: ownerName + "的家。包括客厅、卧室和厨房。",
		Coordinates: coordinates,
	})
	if sq := m.Square(); sq != nil {
		m.ConnectLocations(sq.Name, homeName)
	}
	return homeName
}
