/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package core

import "time"

// StartTimestamp is the time the daemon was started.
var StartTimestamp time.Time
