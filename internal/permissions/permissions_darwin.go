//go:build darwin

package permissions

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework AVFoundation -framework Cocoa
#import <AVFoundation/AVFoundation.h>
#import <Cocoa/Cocoa.h>

static AVMediaType mediaType(int video) {
    return video ? AVMediaTypeVideo : AVMediaTypeAudio;
}

int checkMediaPermission(int video) {
    return (int)[AVCaptureDevice authorizationStatusForMediaType:mediaType(video)];
}

// requestMediaPermission blocks until the user answers the system prompt.
int requestMediaPermission(int video) {
    __block BOOL ok = NO;
    dispatch_semaphore_t sem = dispatch_semaphore_create(0);
    [AVCaptureDevice requestAccessForMediaType:mediaType(video) completionHandler:^(BOOL granted) {
        ok = granted;
        dispatch_semaphore_signal(sem);
    }];
    dispatch_semaphore_wait(sem, DISPATCH_TIME_FOREVER);
    return ok ? 1 : 0;
}

int checkAccessibilityPermission() {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: @YES};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

import (
	"context"
	"fmt"
)

// Check returns the current authorization for the camera (video) or microphone.
func Check(video bool) Status {
	return Status(C.checkMediaPermission(cBool(video)))
}

func request(ctx context.Context, video bool) error {
	name := "microphone"
	if video {
		name = "camera"
	}

	switch Check(video) {
	case StatusAuthorized:
		return nil
	case StatusDenied, StatusRestricted:
		return fmt.Errorf("%s: %w", name, ErrNotGranted)
	}

	granted := make(chan bool, 1)
	go func() {
		granted <- C.requestMediaPermission(cBool(video)) == 1
	}()

	select {
	case ok := <-granted:
		if !ok {
			return fmt.Errorf("%s: %w", name, ErrNotGranted)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestMedia prompts for camera and/or microphone access as needed and
// waits for the answer.
func RequestMedia(ctx context.Context, video, audio bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if video {
		if err := request(ctx, true); err != nil {
			return err
		}
	}
	if audio {
		if err := request(ctx, false); err != nil {
			return err
		}
	}
	return nil
}

// CheckAccessibility checks if the app has accessibility permissions (needed
// for the global hotkey). The system prompt is shown when it is missing.
func CheckAccessibility() (bool, error) {
	return C.checkAccessibilityPermission() == 1, nil
}

func cBool(b bool) C.int {
	if b {
		return 1
	}
	return 0
}
