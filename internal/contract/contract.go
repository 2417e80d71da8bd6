package contract

import (
	"fmt"
	"sort"
)

// Authority is the namespace of every logical identifier served by the store.
const Authority = "org.pixmob.freemobile.netstat"

// Scheme is the optional prefix accepted in front of identifiers.
const Scheme = "content://"

// DatabaseName is the default file name of the persisted store.
const DatabaseName = "netstat.db"

// BaselineVersion is the schema version of a freshly created store.
const BaselineVersion = 1

// Type tag prefixes used for content negotiation.
const (
	DirTypePrefix  = "vnd.android.cursor.dir/"
	ItemTypePrefix = "vnd.android.cursor.item/"
)

// Column names shared by every collection.
const (
	ColumnID         = "_id"
	ColumnTimestamp  = "timestamp"
	ColumnSyncID     = "sync_id"
	ColumnSyncStatus = "sync_status"
)

// Phone / unified event columns.
const (
	ColumnMobileEnabled  = "mobile_enabled"
	ColumnMobileRoaming  = "mobile_roaming"
	ColumnMobileOperator = "mobile_operator"
)

// Wifi event columns.
const (
	ColumnWifiConnected = "wifi_connected"
	ColumnWifiSSID      = "wifi_ssid"
)

// Battery event columns.
const (
	ColumnPowerOn      = "power_on"
	ColumnBatteryLevel = "battery_level"
)

// ColumnType is the storage class of a column.
type ColumnType int

const (
	// TypeInteger is a 64-bit signed integer.
	TypeInteger ColumnType = iota + 1
	// TypeBoolean is stored as INTEGER 0/1.
	TypeBoolean
	// TypeText is a UTF-8 string.
	TypeText
)

// String returns the lower-case type name.
func (t ColumnType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeBoolean:
		return "boolean"
	case TypeText:
		return "text"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Column describes one column of a collection.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Collection describes one addressable table.
type Collection struct {
	// Name is the collection path segment and the table name.
	Name string

	// Item is the singular path segment used in item identifiers and type tags.
	Item string

	// Columns lists every column except the primary key, in DDL order.
	Columns []Column

	index map[string]Column
}

func newCollection(name, item string, columns ...Column) *Collection {
	c := &Collection{Name: name, Item: item, Columns: columns, index: make(map[string]Column, len(columns)+1)}
	c.index[ColumnID] = Column{Name: ColumnID, Type: TypeInteger}
	for _, col := range columns {
		c.index[col.Name] = col
	}
	return c
}

// Column looks up a column by name, including the primary key.
func (c *Collection) Column(name string) (Column, bool) {
	col, ok := c.index[name]
	return col, ok
}

// HasColumn reports whether name is a column of the collection.
func (c *Collection) HasColumn(name string) bool {
	_, ok := c.index[name]
	return ok
}

// ColumnNames returns the primary key followed by all columns in DDL order.
func (c *Collection) ColumnNames() []string {
	names := make([]string, 0, len(c.Columns)+1)
	names = append(names, ColumnID)
	for _, col := range c.Columns {
		names = append(names, col.Name)
	}
	return names
}

// RequiredColumns returns the NOT NULL columns an insert must supply, sorted.
func (c *Collection) RequiredColumns() []string {
	var names []string
	for _, col := range c.Columns {
		if !col.Nullable {
			names = append(names, col.Name)
		}
	}
	sort.Strings(names)
	return names
}

// DirType is the type tag of the whole collection.
func (c *Collection) DirType() string {
	return DirTypePrefix + c.Item
}

// ItemType is the type tag of a single record.
func (c *Collection) ItemType() string {
	return ItemTypePrefix + c.Item
}

func commonColumns() []Column {
	return []Column{
		{Name: ColumnTimestamp, Type: TypeInteger},
	}
}

func syncColumns() []Column {
	return []Column{
		{Name: ColumnSyncID, Type: TypeText},
		{Name: ColumnSyncStatus, Type: TypeInteger},
	}
}

func phoneColumns() []Column {
	cols := commonColumns()
	cols = append(cols,
		Column{Name: ColumnMobileEnabled, Type: TypeBoolean},
		Column{Name: ColumnMobileRoaming, Type: TypeBoolean},
	)
	cols = append(cols, syncColumns()...)
	return append(cols, Column{Name: ColumnMobileOperator, Type: TypeText, Nullable: true})
}

func wifiColumns() []Column {
	cols := append(commonColumns(), Column{Name: ColumnWifiConnected, Type: TypeBoolean})
	cols = append(cols, syncColumns()...)
	return append(cols, Column{Name: ColumnWifiSSID, Type: TypeText, Nullable: true})
}

func batteryColumns() []Column {
	cols := append(commonColumns(),
		Column{Name: ColumnPowerOn, Type: TypeBoolean},
		Column{Name: ColumnBatteryLevel, Type: TypeInteger},
	)
	return append(cols, syncColumns()...)
}

// Collections of both layouts. Events belongs to LayoutUnified, the others
// to LayoutSplit.
var (
	Events = newCollection("events", "event", phoneColumns()...)

	PhoneEvents = newCollection("phoneEvents", "phoneEvent", phoneColumns()...)

	WifiEvents = newCollection("wifiEvents", "wifiEvent", wifiColumns()...)

	BatteryEvents = newCollection("batteryEvents", "batteryEvent", batteryColumns()...)
)

// Layout selects which collections a store serves.
type Layout string

const (
	// LayoutUnified serves the single "events" collection.
	LayoutUnified Layout = "unified"
	// LayoutSplit serves phoneEvents, wifiEvents and batteryEvents.
	LayoutSplit Layout = "split"
)

// DefaultLayout is used when no layout is configured.
const DefaultLayout = LayoutSplit

// ParseLayout converts a configuration string to a Layout.
// The empty string yields DefaultLayout.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case "":
		return DefaultLayout, nil
	case LayoutUnified, LayoutSplit:
		return Layout(s), nil
	default:
		return "", fmt.Errorf("unknown layout %q: must be %q or %q", s, LayoutUnified, LayoutSplit)
	}
}

// Collections returns the collections served under the layout.
func (l Layout) Collections() []*Collection {
	switch l {
	case LayoutUnified:
		return []*Collection{Events}
	case LayoutSplit:
		return []*Collection{PhoneEvents, WifiEvents, BatteryEvents}
	default:
		return nil
	}
}

// AllCollections returns every collection of every layout.
// The schema manager drops all of them on a destructive upgrade.
func AllCollections() []*Collection {
	return []*Collection{Events, PhoneEvents, WifiEvents, BatteryEvents}
}
