// Package framegrabber provides a synchronous frame grabber on top of an
// asynchronous streaming pipeline.
//
// The pipeline is described with engine launch syntax (for GStreamer,
// gst-launch-1.0 syntax) and must contain a sink stage that delivers decoded
// frames. The grabber converts that push model into a blocking pull API: one
// consumer calls Grab and receives the next frame delivered after the call.
//
// # Quick Start
//
//	eng, err := gstreamer.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	g, err := framegrabber.New(framegrabber.Config{
//	    Pipeline: "tcamsrc serial=12345 ! video/x-raw,format=GRAY8,width=1280,height=960 ! appsink",
//	    Format:   framegrabber.Gray8,
//	    Engine:   eng,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer g.Close()
//
//	// Properties that must be written before the pipeline plays
//	g.SetString("tcamsrc0", "Trigger Mode", "Off")
//
//	if err := g.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
//	for {
//	    frame := g.Grab()
//	    log.Printf("seq=%d ts=%d", frame.Seq, g.CameraTimestamp())
//	}
//
// # Stage Registry
//
// Every stage of the built pipeline is indexed by name, including the names
// the engine generated (videotestsrc0, capsfilter0, appsink0 ...). Property
// writes address stages by that name. StageNames lists them.
//
// # Frame Handoff
//
// Deliveries arrive on an engine goroutine. A delivery is copied into the
// single frame slot only while a Grab is waiting; otherwise it is dropped.
// Several deliveries between arming and the consumer waking overwrite each
// other and the consumer receives the last one. Frames are copied, never
// aliased, so the engine buffer is released as soon as the callback returns.
//
// # Engines
//
//   - engine/gstreamer: GStreamer via go-gst (requires cgo and the gstreamer1.0 runtime)
//   - internal/simengine: in-process engine used by tests and the CLI "sim" mode
//
// # Error Handling
//
// Construction fails with *ConstructionError or *MissingRequiredStageError.
// Property writes fail with *UnknownStageError or *PropertyRejectedError.
// Start and Stop fail with *StateTransitionError, which carries the engine's
// error category when the pipeline bus reported one. All of them match
// their sentinel with errors.Is.
package framegrabber
