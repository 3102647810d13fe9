// Package factory provides a small generic registry used to build pluggable
// modules (metrics sinks, broadcast relays) from configuration. A module is a
// type string plus a map of raw settings; the factory decodes the settings
// into a typed struct and returns the implementation.
//
//	reg := factory.NewRegistry[broadcast.Relay]()
//	reg.Register("nats", func(conf map[string]any) (broadcast.Relay, error) {
//	    var c struct{ URL string `json:"url"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return relay.NewNATS(c.URL)
//	})
package factory
