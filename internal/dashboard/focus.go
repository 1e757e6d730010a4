package dashboard

// Zoom levels used by the focus state machine.
const (
	DefaultZoom = 13
	CloseZoom   = 16
)

// LatLng is a map coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// FocusPoint is the map center and zoom. Set is false until the first
// transition; an unset point is the "no focus yet" sentinel.
type FocusPoint struct {
	Center LatLng `json:"center"`
	Zoom   int    `json:"zoom"`
	Set    bool   `json:"set"`
}

// Focus tracks the map focal point.
//
// Two events move it: the first snapshot containing a located student
// centers the map on that student, and selecting an alert centers on the
// alert's student when it has a fix. Anything else leaves it alone. Focus
// is not safe for concurrent use; the engine drives it from its loop.
type Focus struct {
	point       FocusPoint
	defaultZoom int
	closeZoom   int
}

// NewFocus returns an unset focus with the default zoom levels.
func NewFocus() *Focus {
	return &Focus{defaultZoom: DefaultZoom, closeZoom: CloseZoom}
}

// Point returns the current focal point.
func (f *Focus) Point() FocusPoint { return f.point }

// OnSnapshotArrived applies the first-fix policy: while unset, center on
// the first located student in snapshot order. It reports whether the
// point changed.
func (f *Focus) OnSnapshotArrived(students []Student) bool {
	if f.point.Set {
		return false
	}
	for _, s := range students {
		if s.Location != nil {
			return f.moveTo(s.Location.LatLng(), f.defaultZoom)
		}
	}
	return false
}

// OnAlertSelected centers on the student an alert refers to. Unknown or
// unlocated students leave the point unchanged.
func (f *Focus) OnAlertSelected(studentID string, idx Index) bool {
	s, ok := idx.Lookup(studentID)
	if !ok || s.Location == nil {
		return false
	}
	return f.moveTo(s.Location.LatLng(), f.closeZoom)
}

func (f *Focus) moveTo(center LatLng, zoom int) bool {
	next := FocusPoint{Center: center, Zoom: zoom, Set: true}
	if next == f.point {
		return false
	}
	f.point = next
	return true
}
