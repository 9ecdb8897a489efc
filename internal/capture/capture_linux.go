//go:build linux && cgo

// Package capture adapts platform screen-capture backends to
// session.FrameSource, the pull interface videocore's codec pipeline reads
// from.
package capture

/*
#cgo CFLAGS: -I/usr/include
#cgo LDFLAGS: -lX11 -lXext

#include <X11/Xlib.h>
#include <X11/Xutil.h>
#include <sys/ipc.h>
#include <sys/shm.h>
#include <X11/extensions/XShm.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
    void* data;
    int width;
    int height;
    int bytesPerRow;
    int error;
} ScreenCaptureResult;

typedef struct {
    Display* display;
    Window root;
    int screen;
    int width;
    int height;
    int useShm;
    XShmSegmentInfo shmInfo;
    XImage* shmImage;
} CaptureContext;

static CaptureContext g_ctx = {0};

static int initX11(int displayIndex) {
    if (g_ctx.display != NULL) {
        return 0;
    }

    g_ctx.display = XOpenDisplay(NULL);
    if (g_ctx.display == NULL) {
        return 1;
    }

    g_ctx.screen = displayIndex;
    if (g_ctx.screen >= ScreenCount(g_ctx.display)) {
        g_ctx.screen = DefaultScreen(g_ctx.display);
    }

    g_ctx.root = RootWindow(g_ctx.display, g_ctx.screen);
    g_ctx.width = DisplayWidth(g_ctx.display, g_ctx.screen);
    g_ctx.height = DisplayHeight(g_ctx.display, g_ctx.screen);

    int major, minor;
    Bool pixmaps;
    if (XShmQueryVersion(g_ctx.display, &major, &minor, &pixmaps)) {
        g_ctx.useShm = 1;
        g_ctx.shmImage = XShmCreateImage(
            g_ctx.display,
            DefaultVisual(g_ctx.display, g_ctx.screen),
            DefaultDepth(g_ctx.display, g_ctx.screen),
            ZPixmap, NULL, &g_ctx.shmInfo,
            g_ctx.width, g_ctx.height
        );

        if (g_ctx.shmImage != NULL) {
            g_ctx.shmInfo.shmid = shmget(
                IPC_PRIVATE,
                g_ctx.shmImage->bytes_per_line * g_ctx.shmImage->height,
                IPC_CREAT | 0777
            );
            if (g_ctx.shmInfo.shmid >= 0) {
                g_ctx.shmInfo.shmaddr = g_ctx.shmImage->data = shmat(g_ctx.shmInfo.shmid, 0, 0);
                g_ctx.shmInfo.readOnly = False;
                if (XShmAttach(g_ctx.display, &g_ctx.shmInfo)) {
                    return 0;
                }
            }
            XDestroyImage(g_ctx.shmImage);
            g_ctx.shmImage = NULL;
        }
        g_ctx.useShm = 0;
    }

    return 0;
}

static void cleanupX11(void) {
    if (g_ctx.shmImage != NULL) {
        XShmDetach(g_ctx.display, &g_ctx.shmInfo);
        shmdt(g_ctx.shmInfo.shmaddr);
        shmctl(g_ctx.shmInfo.shmid, IPC_RMID, 0);
        XDestroyImage(g_ctx.shmImage);
        g_ctx.shmImage = NULL;
    }
    if (g_ctx.display != NULL) {
        XCloseDisplay(g_ctx.display);
        g_ctx.display = NULL;
    }
    memset(&g_ctx, 0, sizeof(g_ctx));
}

// captureScreen grabs the full root window and converts straight to
// packed BGRx, matching videocore's PixelFormatXRGB32 wire mapping, so the
// codec pipeline can consume it without a further channel swizzle.
static ScreenCaptureResult captureScreen(int displayIndex) {
    ScreenCaptureResult result = {0};

    int initResult = initX11(displayIndex);
    if (initResult != 0) {
        result.error = initResult;
        return result;
    }

    XImage* image = NULL;
    if (g_ctx.useShm && g_ctx.shmImage != NULL) {
        if (!XShmGetImage(g_ctx.display, g_ctx.root, g_ctx.shmImage, 0, 0, AllPlanes)) {
            result.error = 2;
            return result;
        }
        image = g_ctx.shmImage;
    } else {
        image = XGetImage(g_ctx.display, g_ctx.root, 0, 0, g_ctx.width, g_ctx.height, AllPlanes, ZPixmap);
        if (image == NULL) {
            result.error = 3;
            return result;
        }
    }

    result.width = image->width;
    result.height = image->height;
    result.bytesPerRow = result.width * 4;

    size_t dataSize = (size_t)result.bytesPerRow * result.height;
    result.data = malloc(dataSize);
    if (result.data == NULL) {
        if (!g_ctx.useShm) {
            XDestroyImage(image);
        }
        result.error = 4;
        return result;
    }

    unsigned char* dst = (unsigned char*)result.data;
    int depth = image->bits_per_pixel;

    for (int y = 0; y < result.height; y++) {
        for (int x = 0; x < result.width; x++) {
            unsigned long pixel = XGetPixel(image, x, y);
            int idx = y * result.bytesPerRow + x * 4;
            if (depth == 32 || depth == 24) {
                dst[idx + 0] = pixel & 0xFF;         // B
                dst[idx + 1] = (pixel >> 8) & 0xFF;  // G
                dst[idx + 2] = (pixel >> 16) & 0xFF; // R
                dst[idx + 3] = 0;                     // x
            } else if (depth == 16) {
                dst[idx + 0] = (pixel & 0x1F) * 255 / 31;
                dst[idx + 1] = ((pixel >> 5) & 0x3F) * 255 / 63;
                dst[idx + 2] = ((pixel >> 11) & 0x1F) * 255 / 31;
                dst[idx + 3] = 0;
            }
        }
    }

    if (!g_ctx.useShm) {
        XDestroyImage(image);
    }
    return result;
}

static void getScreenBoundsL(int displayIndex, int* width, int* height, int* error) {
    *error = initX11(displayIndex);
    if (*error == 0) {
        *width = g_ctx.width;
        *height = g_ctx.height;
    }
}

static void freeCapture(void* data) {
    if (data != NULL) {
        free(data);
    }
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"

	"github.com/breeze-rmm/videocore/internal/videocore"
)

// X11FrameSource pulls full-screen frames off an X11 root window via XShm
// into videocore's Bitmap/Rect pull contract.
type X11FrameSource struct {
	mu           sync.Mutex
	displayIndex int
	startTime    time.Time
}

// NewX11FrameSource opens (lazily, on first pull) an X11 connection to the
// given display index and prepares to serve full-screen XRGB32 bitmaps.
func NewX11FrameSource(displayIndex int) *X11FrameSource {
	return &X11FrameSource{displayIndex: displayIndex, startTime: time.Now()}
}

// NextFrame implements session.FrameSource.
func (x *X11FrameSource) NextFrame() (videocore.Bitmap, videocore.Rect, bool, uint32, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	result := C.captureScreen(C.int(x.displayIndex))
	if result.error != 0 {
		return videocore.Bitmap{}, videocore.Rect{}, false, 0, false
	}
	defer C.freeCapture(result.data)

	width := int(result.width)
	height := int(result.height)
	stride := int(result.bytesPerRow)
	data := C.GoBytes(result.data, C.int(stride*height))

	bitmap := videocore.Bitmap{
		Format:  videocore.PixelFormatXRGB32,
		Width:   width,
		Height:  height,
		Stride:  stride,
		TopDown: true,
		Chunks:  []videocore.Chunk{{Data: data}},
	}
	crop := videocore.Rect{Left: 0, Top: 0, Right: width, Bottom: height}
	mmTime := uint32(time.Since(x.startTime).Milliseconds())
	return bitmap, crop, true, mmTime, true
}

// ScreenBounds returns the current display's pixel dimensions.
func (x *X11FrameSource) ScreenBounds() (int, int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var w, h, errCode C.int
	C.getScreenBoundsL(C.int(x.displayIndex), &w, &h, &errCode)
	if errCode != 0 {
		return 0, 0, fmt.Errorf("capture: X11 init failed (code %d, is DISPLAY set?)", int(errCode))
	}
	return int(w), int(h), nil
}

// Close releases the X11 connection.
func (x *X11FrameSource) Close() {
	x.mu.Lock()
	defer x.mu.Unlock()
	C.cleanupX11()
}
