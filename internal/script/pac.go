package script

import (
	"context"
	"encoding/binary"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

const dnsTimeout = 2 * time.Second

// LookupIPFunc resolves a host name to its addresses
type LookupIPFunc func(host string) ([]net.IP, error)

var weekdays = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

// pacEnv backs the helper functions PAC files expect from their host
type pacEnv struct {
	lookupIP LookupIPFunc
	localIP  func() string
	now      func() time.Time
	logger   zerolog.Logger
}

func newPACEnv() *pacEnv {
	return &pacEnv{
		lookupIP: defaultLookupIP,
		localIP:  defaultLocalIP,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
}

func defaultLookupIP(host string) ([]net.IP, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dnsTimeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

// defaultLocalIP picks the address of the interface used for outbound traffic.
// A UDP dial sends no packets.
func defaultLocalIP() string {
	conn, err := net.Dial("udp", "192.0.2.1:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

func (e *pacEnv) register(vm *goja.Runtime) {
	vm.Set("isPlainHostName", isPlainHostName)
	vm.Set("dnsDomainIs", dnsDomainIs)
	vm.Set("localHostOrDomainIs", localHostOrDomainIs)
	vm.Set("dnsDomainLevels", dnsDomainLevels)
	vm.Set("shExpMatch", shExpMatch)
	vm.Set("convert_addr", convertAddr)
	vm.Set("isResolvable", e.isResolvable)
	vm.Set("isInNet", e.isInNet)
	vm.Set("myIpAddress", func() string { return e.localIP() })
	vm.Set("dnsResolve", func(host string) goja.Value {
		ip := e.resolve(host)
		if ip == "" {
			return goja.Null()
		}
		return vm.ToValue(ip)
	})
	vm.Set("weekdayRange", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(e.weekdayRange(stringArgs(call)))
	})
	vm.Set("timeRange", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(e.timeRange(stringArgs(call)))
	})
	vm.Set("alert", func(msg string) {
		e.logger.Info().Str("source", "pac").Msg(msg)
	})
}

func stringArgs(call goja.FunctionCall) []string {
	args := make([]string, 0, len(call.Arguments))
	for _, a := range call.Arguments {
		args = append(args, a.String())
	}
	return args
}

func isPlainHostName(host string) bool {
	return !strings.Contains(host, ".")
}

func dnsDomainIs(host, domain string) bool {
	return strings.HasSuffix(strings.ToLower(host), strings.ToLower(domain))
}

func localHostOrDomainIs(host, hostdom string) bool {
	host = strings.ToLower(host)
	hostdom = strings.ToLower(hostdom)
	if host == hostdom {
		return true
	}
	return isPlainHostName(host) && strings.HasPrefix(hostdom, host+".")
}

func dnsDomainLevels(host string) int {
	return strings.Count(host, ".")
}

// shExpMatch matches shell globs where * and ? also cross '/'
func shExpMatch(str, shexp string) bool {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range shexp {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(str)
}

func convertAddr(ip string) uint32 {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return 0
	}
	return binary.BigEndian.Uint32(parsed)
}

// resolve returns the first IPv4 address of host, or "" when it cannot be resolved
func (e *pacEnv) resolve(host string) string {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	ips, err := e.lookupIP(host)
	if err != nil {
		return ""
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
	}
	if len(ips) > 0 {
		return ips[0].String()
	}
	return ""
}

func (e *pacEnv) isResolvable(host string) bool {
	return e.resolve(host) != ""
}

func (e *pacEnv) isInNet(host, pattern, mask string) bool {
	ip := net.ParseIP(e.resolve(host)).To4()
	base := net.ParseIP(pattern).To4()
	m := net.ParseIP(mask).To4()
	if ip == nil || base == nil || m == nil {
		return false
	}
	ipMask := net.IPMask(m)
	return ip.Mask(ipMask).Equal(base.Mask(ipMask))
}

func (e *pacEnv) clock(args []string) (time.Time, []string) {
	now := e.now()
	if n := len(args); n > 0 && strings.EqualFold(args[n-1], "GMT") {
		return now.UTC(), args[:n-1]
	}
	return now.Local(), args
}

func (e *pacEnv) weekdayRange(args []string) bool {
	now, args := e.clock(args)
	if len(args) == 0 {
		return false
	}

	from, ok := weekdays[strings.ToUpper(args[0])]
	if !ok {
		return false
	}
	if len(args) == 1 {
		return now.Weekday() == from
	}

	to, ok := weekdays[strings.ToUpper(args[1])]
	if !ok {
		return false
	}
	day := now.Weekday()
	if from <= to {
		return day >= from && day <= to
	}
	return day >= from || day <= to
}

// timeRange supports the hour, hour-minute and hour-minute-second forms
func (e *pacEnv) timeRange(args []string) bool {
	now, args := e.clock(args)

	nums := make([]int, 0, len(args))
	for _, a := range args {
		var n int
		for _, r := range a {
			if r < '0' || r > '9' {
				return false
			}
			n = n*10 + int(r-'0')
		}
		nums = append(nums, n)
	}

	current := now.Hour()*3600 + now.Minute()*60 + now.Second()

	var start, end int
	switch len(nums) {
	case 1:
		return now.Hour() == nums[0]
	case 2:
		start, end = nums[0]*3600, nums[1]*3600
	case 4:
		start, end = nums[0]*3600+nums[1]*60, nums[2]*3600+nums[3]*60
	case 6:
		start = nums[0]*3600 + nums[1]*60 + nums[2]
		end = nums[3]*3600 + nums[4]*60 + nums[5]
	default:
		return false
	}

	if start <= end {
		return current >= start && current < end
	}
	return current >= start || current < end
}
