package js

// SCROLL_THROUGH scrolls the page down one viewport at a time until the
// bottom is reached, so lazily loaded images and sections get requested, then
// returns to the top. Pages that keep growing are capped at 50 steps.
var SCROLL_THROUGH string = `
async () => {
    const sleep = (ms) => new Promise((resolve) => setTimeout(resolve, ms));
    const step = Math.max(window.innerHeight, 200);

    for (let i = 0; i < 50; i++) {
        const bottom = Math.max(document.body.scrollHeight, document.documentElement.scrollHeight);
        if (window.scrollY + window.innerHeight >= bottom) {
            break;
        }
        window.scrollBy(0, step);
        await sleep(100);
    }

    window.scrollTo(0, 0);
    await sleep(100);
    return true;
}
`
