// Package helmet composes HTTP security-header middlewares into a single
// middleware named "helmet".
//
// A fixed registry lists every feature in execution order together with
// whether it runs by default. A Config overrides that per feature: Off()
// drops it, On() enables it with empty options, With(opts) enables it and
// passes opts to its constructor. Features absent from the Config keep
// their default.
//
//	h, err := helmet.New(helmet.Config{
//		helmet.FeatureFrameguard:     helmet.With(helmet.FrameguardOptions{Action: "deny"}),
//		helmet.FeatureReferrerPolicy: helmet.On(),
//		helmet.FeatureHSTS:           helmet.Off(),
//	})
//
// Configs can also be read from YAML with Parse or LoadFile:
//
//	frameguard:
//	  action: deny
//	referrerPolicy: true
//	hsts: false
//
// A composed Helmet is immutable and safe for concurrent use.
package helmet
