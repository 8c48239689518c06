package topology_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sadrn/internal/topology"
)

const minimalTemplate = `
switches:
  - {id: s1, name: Core, type: core, battery: 100}
  - {id: s2, name: Zone, type: zone, battery: 100}
switch_links:
  - {id: l1, source: s2, target: s1, type: zone-uplink-primary, bandwidth: 100, latency: 3}
gateways:
  - {id: g1, name: G, ip: 10.0.0.1, primary_switch: s2, backup_switch: s1, sensors: [x1]}
gateway_links:
  - {id: gl1, source: g1, target: s2, type: zone-uplink-primary, bandwidth: 100, latency: 1}
  - {id: gl2, source: g1, target: s1, type: zone-uplink-backup, bandwidth: 100, latency: 1}
sensors:
  - {id: x1, name: X, gateway: g1, type: flood, value: 120, threshold_warning: 40, threshold_emergency: 70, unit: cm}
display:
  name: Control Center
  connected_switches: [s1]
`

var _ = Describe("Template", func() {
	Describe("DefaultTemplate", func() {
		It("should build the three-zone deployment", func() {
			g := topology.DefaultTemplate().Build()

			Expect(g.Switches).To(HaveLen(6))
			Expect(g.SwitchLinks).To(HaveLen(6))
			Expect(g.Gateways).To(HaveLen(3))
			Expect(g.GatewayLinks).To(HaveLen(6))
			Expect(g.Sensors).To(HaveLen(6))
			Expect(g.Display.ID).To(Equal(topology.ControlCenterID))
			Expect(g.Display.ConnectedSwitches).To(ConsistOf("s1", "s2", "s3"))
		})

		It("should start with every entity active and primaries selected", func() {
			g := topology.DefaultTemplate().Build()

			for _, sw := range g.Switches {
				Expect(sw.Status).To(Equal(topology.StatusActive))
			}
			for _, l := range append(g.SwitchLinks, g.GatewayLinks...) {
				Expect(l.Status).To(Equal(topology.StatusActive))
				Expect(l.Cause).To(Equal(topology.CauseNone))
			}
			for _, gw := range g.Gateways {
				Expect(gw.ActiveUplink).To(Equal(gw.PrimarySwitch))
				Expect(gw.Priority).To(Equal(topology.PriorityNormal))
			}
		})
	})

	Describe("ParseTemplate", func() {
		It("should clamp values and default the control center id", func() {
			tpl, err := topology.ParseTemplate([]byte(minimalTemplate))
			Expect(err).NotTo(HaveOccurred())

			g := tpl.Build()
			Expect(g.Display.ID).To(Equal(topology.ControlCenterID))
			Expect(g.Sensors["x1"].Value).To(Equal(100.0))
			Expect(g.Sensors["x1"].Status).To(Equal(topology.PriorityEmergency))
			Expect(g.Gateways["g1"].Priority).To(Equal(topology.PriorityEmergency))
		})

		DescribeTable("should reject broken templates",
			func(from, to, message string) {
				_, err := topology.ParseTemplate([]byte(strings.Replace(minimalTemplate, from, to, 1)))
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring(message))
			},
			Entry("duplicate id", "{id: s2, name: Zone", "{id: s1, name: Zone", "duplicate id"),
			Entry("unknown switch type", "type: zone,", "type: edge,", "unknown type"),
			Entry("unknown uplink", "backup_switch: s1", "backup_switch: s9", "unknown switch"),
			Entry("identical uplinks", "backup_switch: s1", "backup_switch: s2", "primary and backup"),
			Entry("dangling link", "target: s1, type: zone-uplink-primary", "target: s7, type: zone-uplink-primary", "invalid endpoints"),
			Entry("gateway link to a foreign switch", "{id: gl2, source: g1, target: s1", "{id: gl2, source: g1, target: s9", "not an uplink"),
			Entry("threshold ordering", "threshold_warning: 40", "threshold_warning: 90", "warning threshold"),
			Entry("sensor without gateway", "gateway: g1, type: flood", "gateway: g7, type: flood", "unknown gateway"),
			Entry("sensor left out by its gateway", "sensors: [x1]", "sensors: []", "not listed by its gateway"),
			Entry("unconnected control center", "connected_switches: [s1]", "connected_switches: []", "no connected switches"),
		)

		It("should report malformed yaml", func() {
			_, err := topology.ParseTemplate([]byte("switches: [oops"))
			Expect(err).To(MatchError(ContainSubstring("decode template")))
		})
	})

	Describe("LoadTemplate", func() {
		It("should load a template file", func() {
			tpl, err := topology.LoadTemplate("testdata/diamond.yaml")
			Expect(err).NotTo(HaveOccurred())
			Expect(tpl.Switches).To(HaveLen(3))
		})

		It("should fail for a missing file", func() {
			_, err := topology.LoadTemplate("testdata/missing.yaml")
			Expect(err).To(HaveOccurred())
		})
	})
})
