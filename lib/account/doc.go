/*
Package account maps OS accounts to the identities used by the data service and
distributes account events.

Two identities exist per request:

  - the device account, derived from the calling uid (uid / UidRange). Only
    MainDeviceAccountId is supported by the data service.
  - the harmony account, the hashed uid of the logged in OS account
    (see crypto.Sha256UserId). Auto-launch bundles always use DefaultGroupId.

Observers subscribe by a unique name and are called synchronously by
NotifyAccountChanged. The OS side is abstracted by IOSAccountProvider so tests
and other hosts can inject their own account source.
*/
package account
