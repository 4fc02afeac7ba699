package framegrabber_test

import (
	"context"
	"fmt"
	"time"

	framegrabber "github.com/e7canasta/orion-care-sensor/modules/frame-grabber"
	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/internal/simengine"
)

func Example() {
	g, err := framegrabber.New(framegrabber.Config{
		Pipeline: "videotestsrc ! tcamautoexposure name=autoexp ! video/x-raw,format=GRAY8,width=64,height=48,framerate=60/1 ! appsink",
		Format:   framegrabber.Gray8,
		Engine:   simengine.New(simengine.WithAutoStream()),
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer g.Close()

	fmt.Println(g.StageNames())

	if err := g.SetBool("autoexp", "Exposure Auto", false); err != nil {
		fmt.Println("error:", err)
		return
	}

	if err := g.Start(context.Background()); err != nil {
		fmt.Println("error:", err)
		return
	}
	defer g.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frame, err := g.GrabContext(ctx)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("%dx%d %s %d bytes @ %.0f fps\n",
		frame.Width, frame.Height, frame.Format, len(frame.Data), g.CameraFrameRate())

	// Output:
	// [appsink0 autoexp capsfilter0 videotestsrc0]
	// 64x48 u8c1 3072 bytes @ 60 fps
}
