package hotplug

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// usbIDPaths lists the standard locations of the usb.ids database, used
// to name adapters whose enumeration carries no product string.
var usbIDPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// usbIDs caches vendor and product names parsed from usb.ids.
type usbIDs struct {
	vendors  map[uint16]string
	products map[uint32]string
	once     sync.Once
}

var usbDB usbIDs

// DescribePort fills in a port's Product from the host's USB ID database
// when enumeration left it empty. Hosts without a usb.ids file get the
// info back unchanged.
func DescribePort(info PortInfo) PortInfo {
	if info.Product != "" || info.VID == "" {
		return info
	}
	vid, err := strconv.ParseUint(info.VID, 16, 16)
	if err != nil {
		return info
	}
	pid, err := strconv.ParseUint(info.PID, 16, 16)
	if err != nil {
		return info
	}
	usbDB.once.Do(usbDB.load)
	if name := usbDB.products[uint32(vid)<<16|uint32(pid)]; name != "" {
		info.Product = name
	} else if vendor := usbDB.vendors[uint16(vid)]; vendor != "" {
		info.Product = vendor
	}
	return info
}

func (db *usbIDs) load() {
	db.vendors = map[uint16]string{}
	db.products = map[uint32]string{}
	for _, path := range usbIDPaths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		db.parse(f)
		f.Close()
		return
	}
}

// parse reads the usb.ids format: vendor lines are "xxxx  Name" at
// column zero, product lines the same but tab-indented under their
// vendor. Deeper indentation (interfaces) is skipped; a column-zero line
// that is not a hex ID (a class block) ends the vendor scope.
func (db *usbIDs) parse(r io.Reader) {
	scanner := bufio.NewScanner(r)
	var vid uint16
	var haveVendor bool
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		indented := line[0] == '\t'
		if indented {
			line = line[1:]
		}
		if len(line) < 6 || line[0] == '\t' {
			continue
		}
		id, err := strconv.ParseUint(line[:4], 16, 16)
		if err != nil {
			if !indented {
				haveVendor = false
			}
			continue
		}
		name := strings.TrimLeft(line[4:], " \t")
		if indented {
			if haveVendor {
				db.products[uint32(vid)<<16|uint32(id)] = name
			}
			continue
		}
		vid = uint16(id)
		haveVendor = true
		db.vendors[vid] = name
	}
}
